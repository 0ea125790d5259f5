package multipart

import (
	"errors"
	"fmt"
)

// ErrMalformed reports a body whose terminal boundary was never found, or
// whose part framing could not be parsed. It is fatal for the session.
var ErrMalformed = errors.New("multipart: malformed body")

// Message keys recorded on the session error list. Rendering them against a
// message catalog is the caller's concern; the session only carries key+args.
const (
	KeySizeLimit        = "upload.error.sizeLimit"
	KeyFileCountLimit   = "upload.error.fileCountLimit"
	KeyByteCountLimit   = "upload.error.byteCountLimit"
	KeyFieldLengthLimit = "upload.error.fieldLengthLimit"
	KeyContentType      = "upload.error.contentType"
	KeyMalformed        = "upload.error.malformed"
	KeyStorage          = "upload.error.storage"
	KeyGeneral          = "upload.error.general"
)

// LimitKind identifies which configured ceiling was crossed.
type LimitKind int

const (
	// SizeLimit is the ceiling on total bytes consumed across all parts.
	SizeLimit LimitKind = iota
	// FileCountLimit is the ceiling on the number of file parts.
	FileCountLimit
	// ByteCountLimit is the ceiling on the bytes of a single file part.
	ByteCountLimit
	// FieldLengthLimit is the ceiling on the length of one form-field value.
	FieldLengthLimit
)

func (k LimitKind) String() string {
	switch k {
	case SizeLimit:
		return "SizeLimit"
	case FileCountLimit:
		return "FileCountLimit"
	case ByteCountLimit:
		return "ByteCountLimit"
	case FieldLengthLimit:
		return "FieldLengthLimit"
	default:
		return "UnknownLimit"
	}
}

// LimitError reports a crossed ceiling to the session.
type LimitError struct {
	Kind      LimitKind
	Field     string
	FileName  string
	Permitted int64
	Actual    int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("multipart: %s exceeded: permitted %d, got %d", e.Kind, e.Permitted, e.Actual)
}

// record shapes the limit error into the argument tuple its message key
// expects.
func (e *LimitError) record() ErrorRecord {
	switch e.Kind {
	case ByteCountLimit:
		return ErrorRecord{Key: KeyByteCountLimit, Args: []any{e.Field, e.FileName, e.Permitted, e.Actual}}
	case FieldLengthLimit:
		return ErrorRecord{Key: KeyFieldLengthLimit, Args: []any{e.Field, e.Permitted, e.Actual}}
	case FileCountLimit:
		return ErrorRecord{Key: KeyFileCountLimit, Args: []any{e.Permitted, e.Actual}}
	default:
		return ErrorRecord{Key: KeySizeLimit, Args: []any{e.Permitted, e.Actual}}
	}
}

// StorageError reports a failure writing a file part to the spool directory.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("multipart: storing %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorRecord is a recoverable failure surfaced to the caller without
// aborting the whole parse. Key names an entry in the caller's message
// catalog and Args are its format arguments.
type ErrorRecord struct {
	Key  string
	Args []any
}

// equal reports whether two records describe the same logical failure; the
// session coalesces duplicates by this equality.
func (r ErrorRecord) equal(o ErrorRecord) bool {
	if r.Key != o.Key || len(r.Args) != len(o.Args) {
		return false
	}
	for i := range r.Args {
		if fmt.Sprint(r.Args[i]) != fmt.Sprint(o.Args[i]) {
			return false
		}
	}
	return true
}
