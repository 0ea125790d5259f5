// Package multipart implements a streaming multipart/form-data engine: one
// pass over a request body splits it into parts, classifies each part as a
// form field or a file, enforces configured limits incrementally, and spools
// file parts to uniquely named temp files. Failures are recorded on the
// session instead of being returned, so a single bad part never aborts the
// request lifecycle observable to the caller.
package multipart

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/language"
)

// DefaultBufferSize is the internal buffer size used during streaming when
// the config does not set one.
const DefaultBufferSize = 10240

// Config carries the per-session parsing limits and defaults, fixed before
// the session starts. A zero ceiling means unlimited; MaxFieldLength should
// always be set when parsing untrusted input.
type Config struct {
	// MaxSize caps the total bytes consumed across all part bodies.
	MaxSize int64
	// MaxFiles caps the number of file parts in one request.
	MaxFiles int64
	// MaxFileSize caps the bytes of a single file part.
	MaxFileSize int64
	// MaxFieldLength caps the byte length of one form-field value.
	MaxFieldLength int64
	// BufferSize is the streaming buffer size; DefaultBufferSize when zero.
	BufferSize int
	// DefaultEncoding is the IANA charset used for field values when the
	// request does not declare one. UTF-8 when empty.
	DefaultEncoding string
	// DefaultLocale overrides the locale negotiated from the request.
	DefaultLocale language.Tag
}

// Session parses one multipart request body into form-field values and
// spooled files. Create one per request, call Parse exactly once, inspect
// Errors for recoverable failures, and call CleanUp after the results have
// been consumed.
type Session struct {
	cfg    Config
	locale language.Tag

	fields map[string][]string
	files  map[string][]*UploadedFile
	errs   []ErrorRecord
}

// NewSession creates a session with the given configuration.
func NewSession(cfg Config) *Session {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Session{
		cfg:    cfg,
		fields: make(map[string][]string),
		files:  make(map[string][]*UploadedFile),
	}
}

// Parse processes the request body, spooling file parts into saveDir. It
// never returns an error: every failure, fatal or not, ends up on the error
// list. After a fatal failure the accumulated fields and files reflect what
// was parsed up to that point.
func (s *Session) Parse(req *http.Request, saveDir string) {
	s.locale = s.negotiateLocale(req)

	rawContentType := req.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(rawContentType)
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		slog.Debug("request is not parsable multipart", "content_type", rawContentType)
		s.record(ErrorRecord{Key: KeyContentType, Args: []any{rawContentType}})
		return
	}

	enc, err := s.fieldEncoding(params["charset"])
	if err != nil {
		s.record(ErrorRecord{Key: KeyGeneral, Args: []any{err.Error()}})
		return
	}

	dir, err := filepath.Abs(saveDir)
	if err != nil {
		s.record(ErrorRecord{Key: KeyStorage, Args: []any{saveDir, err.Error()}})
		return
	}

	enf := newEnforcer(s.cfg)
	ps := &persister{dir: dir, bufSize: s.cfg.BufferSize}
	sc := newScanner(req.Body, params["boundary"], s.cfg.BufferSize)

	for {
		part, err := sc.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.recordParseError(err)
			return
		}

		var fatal bool
		if classify(part) == formField {
			fatal = s.processFormField(part, enf, enc)
		} else {
			fatal = s.processFileField(part, enf, ps)
		}
		if fatal {
			return
		}
	}
}

// processFormField accumulates a field value, dropping it when it exceeds
// the field-length ceiling. Only whole-request limits are fatal here.
func (s *Session) processFormField(p *Part, enf *enforcer, enc encoding.Encoding) (fatal bool) {
	name := p.FormName()
	slog.Debug("processing form field", "field", sanitizeNewlines(name))

	raw, length, limitErr, err := s.readFieldValue(p, enf)
	if err != nil {
		s.recordParseError(err)
		return true
	}
	if limitErr != nil {
		s.record(limitErr.record())
		return true
	}

	if lerr := enf.checkField(name, length); lerr != nil {
		slog.Debug("form field exceeds length limit",
			"field", sanitizeNewlines(name),
			"length", length,
			"permitted", s.cfg.MaxFieldLength,
		)
		s.record(lerr.record())
		return false
	}

	value, err := decodeValue(enc, raw)
	if err != nil {
		s.record(ErrorRecord{Key: KeyGeneral, Args: []any{err.Error()}})
		return false
	}
	s.fields[name] = append(s.fields[name], value)
	return false
}

// readFieldValue streams a field body through the session buffer. Bytes past
// the field-length ceiling are counted but not retained, so memory stays
// bounded even for oversized values. A non-nil LimitError means the
// whole-request size ceiling tripped mid-read.
func (s *Session) readFieldValue(p *Part, enf *enforcer) (value []byte, length int64, limitErr *LimitError, err error) {
	keep := int64(-1)
	if s.cfg.MaxFieldLength > 0 {
		keep = s.cfg.MaxFieldLength + 1
	}
	buf := make([]byte, s.cfg.BufferSize)
	for {
		n, rerr := p.Read(buf)
		if n > 0 {
			length += int64(n)
			if lerr := enf.addBytes(int64(n)); lerr != nil {
				return nil, length, lerr, nil
			}
			room := n
			if keep >= 0 && int64(len(value))+int64(n) > keep {
				room = int(keep - int64(len(value)))
			}
			if room > 0 {
				value = append(value, buf[:room]...)
			}
		}
		if rerr == io.EOF {
			return value, length, nil, nil
		}
		if rerr != nil {
			return nil, length, nil, rerr
		}
	}
}

// processFileField spools a file part. File-count and size ceilings are
// fatal for the session; a storage failure only skips this one file.
func (s *Session) processFileField(p *Part, enf *enforcer, ps *persister) (fatal bool) {
	field := p.FormName()

	// A file input submitted with no file selected arrives as a file part
	// with an empty name. Drop it silently, but its bytes still count
	// against the whole-request ceiling: skipped parts are attacker input
	// too.
	if strings.TrimSpace(p.FileName()) == "" {
		slog.Debug("no file uploaded for field", "field", sanitizeNewlines(field))
		lerr, err := s.drainCounted(p, enf)
		if err != nil {
			s.recordParseError(err)
			return true
		}
		if lerr != nil {
			s.record(lerr.record())
			return true
		}
		return false
	}

	if lerr := enf.startFile(); lerr != nil {
		// Once the file count is crossed the whole batch is rejected:
		// files spooled so far are deleted and dropped from the results,
		// leaving only the error record.
		s.record(lerr.record())
		s.dropSpooledFiles()
		return true
	}

	slog.Debug("processing file field",
		"field", sanitizeNewlines(field),
		"file", sanitizeNewlines(p.FileName()),
	)
	uf, err := ps.persist(p, enf)
	if err != nil {
		var lerr *LimitError
		var serr *StorageError
		switch {
		case errors.As(err, &lerr):
			s.record(lerr.record())
			return true
		case errors.As(err, &serr):
			slog.Error("failed to spool uploaded file",
				"field", sanitizeNewlines(field),
				"error", serr,
			)
			s.record(ErrorRecord{Key: KeyStorage, Args: []any{canonicalName(p.FileName()), serr.Err.Error()}})
			return false
		default:
			s.recordParseError(err)
			return true
		}
	}
	s.files[field] = append(s.files[field], uf)
	return false
}

// drainCounted consumes the rest of a part body while charging every byte
// against the whole-request size ceiling. A non-nil LimitError means the
// ceiling tripped mid-drain.
func (s *Session) drainCounted(p *Part, enf *enforcer) (*LimitError, error) {
	buf := make([]byte, s.cfg.BufferSize)
	for {
		n, rerr := p.Read(buf)
		if n > 0 {
			if lerr := enf.addBytes(int64(n)); lerr != nil {
				return lerr, nil
			}
		}
		if rerr == io.EOF {
			return nil, nil
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

func (s *Session) recordParseError(err error) {
	slog.Debug("unable to parse request", "error", err)
	if errors.Is(err, ErrMalformed) {
		s.record(ErrorRecord{Key: KeyMalformed})
		return
	}
	s.record(ErrorRecord{Key: KeyGeneral, Args: []any{err.Error()}})
}

// record appends rec unless an equal record is already present.
func (s *Session) record(rec ErrorRecord) {
	for _, have := range s.errs {
		if have.equal(rec) {
			return
		}
	}
	s.errs = append(s.errs, rec)
}

func (s *Session) dropSpooledFiles() {
	for _, list := range s.files {
		for _, uf := range list {
			if err := os.Remove(uf.Path); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to delete spooled file", "path", uf.Path, "error", err)
			}
		}
	}
	s.files = make(map[string][]*UploadedFile)
}

// fieldEncoding resolves the charset used to decode field values: the
// request's declared charset wins, then the configured default, then UTF-8.
func (s *Session) fieldEncoding(requestCharset string) (encoding.Encoding, error) {
	name := requestCharset
	if name == "" {
		name = s.cfg.DefaultEncoding
	}
	if name == "" || strings.EqualFold(name, "utf-8") {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc, nil
}

func decodeValue(enc encoding.Encoding, raw []byte) (string, error) {
	if enc == nil {
		return string(raw), nil
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Session) negotiateLocale(req *http.Request) language.Tag {
	if s.cfg.DefaultLocale != language.Und {
		return s.cfg.DefaultLocale
	}
	if tags, _, err := language.ParseAcceptLanguage(req.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		return tags[0]
	}
	return language.English
}

// sanitizeNewlines neutralizes attacker-controlled newlines before a value
// reaches a log line.
func sanitizeNewlines(v string) string {
	return strings.NewReplacer("\r", "_", "\n", "_").Replace(v)
}

// --- Result accessors ---

// Locale returns the locale negotiated for this session.
func (s *Session) Locale() language.Tag { return s.locale }

// Errors returns the recoverable failures recorded during Parse, in arrival
// order with duplicates coalesced.
func (s *Session) Errors() []ErrorRecord { return s.errs }

// FieldNames returns the names of all accumulated form fields, sorted.
func (s *Session) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldValues returns all values of a form field in arrival order.
func (s *Session) FieldValues(name string) []string { return s.fields[name] }

// FieldValue returns the first value of a form field, or "".
func (s *Session) FieldValue(name string) string {
	if v := s.fields[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// FileFieldNames returns the names of all fields that carried files, sorted.
func (s *Session) FileFieldNames() []string {
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Files returns the uploaded files of a field in arrival order.
func (s *Session) Files(name string) []*UploadedFile { return s.files[name] }

// FileNames returns the canonical client file names of a field's uploads.
func (s *Session) FileNames(name string) []string {
	files := s.files[name]
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.CanonicalName()
	}
	return out
}

// ContentTypes returns the content types of a field's uploads.
func (s *Session) ContentTypes(name string) []string {
	files := s.files[name]
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ContentType
	}
	return out
}

// FilesystemPaths returns the spool paths of a field's uploads.
func (s *Session) FilesystemPaths(name string) []string {
	files := s.files[name]
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// CleanUp deletes every spooled temp file. It is idempotent and safe to call
// after files have already been claimed or removed by the consumer.
func (s *Session) CleanUp() {
	slog.Debug("cleaning up upload temp files")
	for _, list := range s.files {
		for _, uf := range list {
			if err := os.Remove(uf.Path); err != nil {
				if os.IsNotExist(err) {
					slog.Debug("temp file already deleted", "path", uf.Path)
					continue
				}
				slog.Warn("failed to delete temp file", "path", uf.Path, "error", err)
			}
		}
	}
}
