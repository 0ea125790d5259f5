package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intake/internal/multipart"
	"intake/internal/server/config"
	"intake/internal/server/database"
	"intake/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound         = errors.New("upload not found")
	ErrExpired          = errors.New("upload has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrInvalidToken     = errors.New("invalid deletion token")
	ErrBlockedExtension = errors.New("file extension is not allowed")
	ErrNoFiles          = errors.New("request contained no accepted files")
)

// blockedExtensions are file extensions rejected at ingest time.
var blockedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".pif": true, ".vbs": true, ".vbe": true,
	".wsf": true, ".wsh": true, ".msi": true, ".hta": true,
	".lnk": true, ".cpl": true, ".inf": true, ".reg": true,
}

// UploadResult is returned for each file accepted from a request.
type UploadResult struct {
	ID            string    `json:"id"`
	FieldName     string    `json:"field_name"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	DownloadURL   string    `json:"download_url"`
	DeletionToken string    `json:"deletion_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// UploadInfo is returned for metadata queries.
type UploadInfo struct {
	ID            string    `json:"id"`
	FieldName     string    `json:"field_name"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	UploadedAt    time.Time `json:"uploaded_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	DownloadCount int       `json:"download_count"`
	HasPassword   bool      `json:"has_password"`
}

// UploadService contains the business logic for file uploads.
type UploadService struct {
	repo  *database.Repository
	store storage.Store
	cfg   *config.Config
}

// NewUploadService creates a new upload service.
func NewUploadService(repo *database.Repository, store storage.Store, cfg *config.Config) *UploadService {
	return &UploadService{
		repo:  repo,
		store: store,
		cfg:   cfg,
	}
}

// IngestSession moves every file the parsed session spooled to disk
// into permanent storage and records each one in the database. Files
// are processed in field order; a failure aborts the remaining files
// but keeps those already accepted.
//
// The caller owns the session's temp files and is expected to call
// CleanUp afterward regardless of outcome.
func (s *UploadService) IngestSession(ctx context.Context, sess *multipart.Session, password string, expiry time.Duration) ([]*UploadResult, error) {
	if expiry <= 0 {
		expiry = s.cfg.DefaultExpiry
	}

	// Hash the password once; it applies to every file in the request.
	var passwordHash *string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	var results []*UploadResult
	for _, field := range sess.FileFieldNames() {
		for _, file := range sess.Files(field) {
			result, err := s.ingestFile(ctx, field, file, passwordHash, expiry)
			if err != nil {
				return results, err
			}
			results = append(results, result)
		}
	}

	if len(results) == 0 {
		return nil, ErrNoFiles
	}
	return results, nil
}

// ingestFile copies one spooled file into the store, hashing it along
// the way, and creates its database record.
func (s *UploadService) ingestFile(ctx context.Context, field string, file *multipart.UploadedFile, passwordHash *string, expiry time.Duration) (*UploadResult, error) {
	filename := file.CanonicalName()

	ext := strings.ToLower(filepath.Ext(filename))
	if blockedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrBlockedExtension, ext)
	}

	uploadID, err := generateSecureToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload ID: %w", err)
	}

	deletionToken, err := generateSecureToken(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate deletion token: %w", err)
	}
	deletionToken = "del_" + deletionToken

	spooled, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spooled file: %w", err)
	}
	defer spooled.Close()

	// Stream spool -> store, computing SHA-256 in the same pass.
	hasher := sha256.New()
	storedBytes, err := s.store.Save(uploadID, io.TeeReader(spooled, hasher))
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))

	// Duplicate content is logged, not rejected.
	existing, _ := s.repo.GetByHash(ctx, fileHash)
	if existing != nil {
		slog.Info("duplicate file detected",
			"new_upload", uploadID,
			"existing_upload", existing.ID,
			"hash", fileHash,
		)
	}

	now := time.Now().UTC()
	upload := &database.Upload{
		ID:            uploadID,
		FieldName:     field,
		Filename:      sanitizeFilename(filename),
		ContentType:   file.ContentType,
		Size:          storedBytes,
		FileHash:      fileHash,
		UploadedAt:    now,
		ExpiresAt:     now.Add(expiry),
		DownloadCount: 0,
		PasswordHash:  passwordHash,
		DeletionToken: deletionToken,
		CreatedAt:     now,
	}

	if err := s.repo.Create(ctx, upload); err != nil {
		// Clean up stored file on DB failure
		s.store.Delete(uploadID)
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	slog.Info("upload accepted",
		"id", uploadID,
		"field", field,
		"filename", upload.Filename,
		"size", storedBytes,
		"hash", fileHash,
	)

	return &UploadResult{
		ID:            uploadID,
		FieldName:     field,
		Filename:      upload.Filename,
		ContentType:   upload.ContentType,
		Size:          storedBytes,
		DownloadURL:   fmt.Sprintf("%s/d/%s", s.cfg.BaseURL, uploadID),
		DeletionToken: deletionToken,
		ExpiresAt:     upload.ExpiresAt,
	}, nil
}

// GetInfo returns metadata about an upload without serving the file.
func (s *UploadService) GetInfo(ctx context.Context, id string) (*UploadInfo, error) {
	upload, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if time.Now().After(upload.ExpiresAt) {
		return nil, ErrExpired
	}

	return &UploadInfo{
		ID:            upload.ID,
		FieldName:     upload.FieldName,
		Filename:      upload.Filename,
		ContentType:   upload.ContentType,
		Size:          upload.Size,
		UploadedAt:    upload.UploadedAt,
		ExpiresAt:     upload.ExpiresAt,
		DownloadCount: upload.DownloadCount,
		HasPassword:   upload.PasswordHash != nil,
	}, nil
}

// Download validates the password (if required), increments the download count,
// and returns the path to the file on disk.
func (s *UploadService) Download(ctx context.Context, id string, password string) (filePath string, filename string, err error) {
	upload, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}

	if time.Now().After(upload.ExpiresAt) {
		return "", "", ErrExpired
	}

	// Check password if the upload is password-protected
	if upload.PasswordHash != nil {
		if password == "" {
			return "", "", ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*upload.PasswordHash), []byte(password)); err != nil {
			return "", "", ErrInvalidPassword
		}
	}

	// Get the file path from storage
	path, err := s.store.GetPath(id)
	if err != nil {
		return "", "", fmt.Errorf("file not found on disk: %w", err)
	}

	// Increment download count (best-effort, don't fail the download)
	if err := s.repo.IncrementDownloadCount(ctx, id); err != nil {
		slog.Error("failed to increment download count", "id", id, "error", err)
	}

	return path, upload.Filename, nil
}

// DeleteUpload validates the deletion token and removes the upload.
func (s *UploadService) DeleteUpload(ctx context.Context, id string, token string) error {
	upload, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return ErrNotFound
		}
		return err
	}

	if upload.DeletionToken != token {
		return ErrInvalidToken
	}

	// Delete file from storage
	if err := s.store.Delete(id); err != nil {
		slog.Error("failed to delete file from storage", "id", id, "error", err)
		// Continue with DB deletion even if file deletion fails
	}

	// Delete record from database
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}

	slog.Info("upload deleted", "id", id, "filename", upload.Filename)
	return nil
}

// GetStats returns aggregate server statistics.
func (s *UploadService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

// --- Helpers ---

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// sanitizeFilename strips directory components and limits length. The
// engine already canonicalizes names; this is the last line of defense
// before the name reaches the database.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(name)

	// Limit length
	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload.bin"
	}

	return name
}
