package database

import "time"

// Upload represents one accepted file from a multipart request.
type Upload struct {
	ID            string
	FieldName     string // multipart form field the file arrived under
	Filename      string // canonical client-supplied name
	ContentType   string
	Size          int64
	FileHash      string
	UploadedAt    time.Time
	ExpiresAt     time.Time
	DownloadCount int
	PasswordHash  *string // nil when no password set
	DeletionToken string
	CreatedAt     time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalUploads   int64
	ActiveUploads  int64
	TotalDownloads int64
	StorageUsed    int64
}
