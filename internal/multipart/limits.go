package multipart

// enforcer tracks cumulative byte and file counts against the configured
// ceilings. Checks run incrementally while streaming, so memory stays
// bounded by the copy buffer no matter how large the payload is. A ceiling
// of zero means unlimited.
type enforcer struct {
	maxSize        int64
	maxFiles       int64
	maxFileSize    int64
	maxFieldLength int64

	total int64
	files int64
}

func newEnforcer(cfg Config) *enforcer {
	return &enforcer{
		maxSize:        cfg.MaxSize,
		maxFiles:       cfg.MaxFiles,
		maxFileSize:    cfg.MaxFileSize,
		maxFieldLength: cfg.MaxFieldLength,
	}
}

// addBytes counts raw part-body bytes against the whole-request ceiling.
func (e *enforcer) addBytes(n int64) *LimitError {
	e.total += n
	if e.maxSize > 0 && e.total > e.maxSize {
		return &LimitError{Kind: SizeLimit, Permitted: e.maxSize, Actual: e.total}
	}
	return nil
}

// startFile counts a new file part against the file-count ceiling.
func (e *enforcer) startFile() *LimitError {
	e.files++
	if e.maxFiles > 0 && e.files > e.maxFiles {
		return &LimitError{Kind: FileCountLimit, Permitted: e.maxFiles, Actual: e.files}
	}
	return nil
}

// checkFileBytes counts one streamed chunk of a file part against both the
// whole-request and the per-file ceilings. fileSoFar includes the chunk.
func (e *enforcer) checkFileBytes(field, file string, chunk, fileSoFar int64) *LimitError {
	if lerr := e.addBytes(chunk); lerr != nil {
		return lerr
	}
	if e.maxFileSize > 0 && fileSoFar > e.maxFileSize {
		return &LimitError{Kind: ByteCountLimit, Field: field, FileName: file, Permitted: e.maxFileSize, Actual: fileSoFar}
	}
	return nil
}

// checkField validates the byte length of a fully read form-field value.
func (e *enforcer) checkField(name string, length int64) *LimitError {
	if e.maxFieldLength > 0 && length > e.maxFieldLength {
		return &LimitError{Kind: FieldLengthLimit, Field: name, Permitted: e.maxFieldLength, Actual: length}
	}
	return nil
}
