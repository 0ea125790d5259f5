package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is the backend that holds accepted upload content, keyed by
// upload ID. The interface exists so the filesystem backend can be
// swapped for an object store later.
type Store interface {
	Save(uploadID string, data io.Reader) (int64, error)
	GetPath(uploadID string) (string, error)
	Delete(uploadID string) error
	EnsureDir() error
}

// FileSystemStore keeps upload content as flat files under a base
// directory, one file per upload ID.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save streams data into the file for uploadID and returns the number
// of bytes written. A partial file left by a failed copy is removed.
func (fs *FileSystemStore) Save(uploadID string, data io.Reader) (int64, error) {
	filePath := fs.filePath(uploadID)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := io.Copy(file, data)
	if err != nil {
		file.Close()
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to close file: %w", err)
	}

	return n, nil
}

// GetPath returns the absolute path to a stored upload file.
// Returns an error if the file does not exist.
func (fs *FileSystemStore) GetPath(uploadID string) (string, error) {
	filePath := fs.filePath(uploadID)

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found for upload %s", uploadID)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return filePath, nil
}

// Delete removes the stored file for an upload. A missing file is not
// an error; cleanup may race with explicit deletion.
func (fs *FileSystemStore) Delete(uploadID string) error {
	filePath := fs.filePath(uploadID)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

func (fs *FileSystemStore) filePath(uploadID string) string {
	return filepath.Join(fs.basePath, uploadID)
}
