package multipart

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// persister streams file parts to uniquely named temp files in the spool
// directory without ever holding a whole file in memory.
type persister struct {
	dir     string
	bufSize int
}

// persist copies the part body to a fresh temp file, checking limits after
// every chunk so the producing stream is stopped the moment a ceiling is
// crossed. The partial file is removed on any failure.
func (ps *persister) persist(p *Part, enf *enforcer) (*UploadedFile, error) {
	path := filepath.Join(ps.dir, tempFileName())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, &StorageError{Path: path, Err: err}
	}

	var written int64
	buf := make([]byte, ps.bufSize)
	for {
		n, rerr := p.Read(buf)
		if n > 0 {
			if lerr := enf.checkFileBytes(p.FormName(), canonicalName(p.FileName()), int64(n), written+int64(n)); lerr != nil {
				f.Close()
				os.Remove(path)
				return nil, lerr
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, &StorageError{Path: path, Err: werr}
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			os.Remove(path)
			return nil, rerr
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, &StorageError{Path: path, Err: err}
	}

	return &UploadedFile{
		Name:        p.FileName(),
		ContentType: p.ContentType(),
		Path:        path,
		Size:        written,
	}, nil
}

// tempFileName follows the upload_<uid>.tmp convention; the random uuid
// keeps names collision-free across concurrent sessions sharing a directory.
func tempFileName() string {
	uid := strings.ReplaceAll(uuid.NewString(), "-", "_")
	return "upload_" + uid + ".tmp"
}
