package multipart

import "strings"

// UploadedFile describes one file part persisted to the spool directory.
// The session owns the backing temp file until CleanUp runs.
type UploadedFile struct {
	Name        string // original client-supplied file name
	ContentType string
	Path        string // absolute path of the spooled temp file
	Size        int64
}

// CanonicalName returns the client file name with any path components
// stripped; browsers on some platforms send the full local path.
func (f *UploadedFile) CanonicalName() string {
	return canonicalName(f.Name)
}

func canonicalName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
