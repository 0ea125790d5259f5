package multipart

import (
	"bytes"
	"io"
	"mime"
	"net/textproto"
)

// Part is one section of a multipart body: its headers plus a streaming view
// of its body. A part is only valid until the scanner's next call to Next.
type Part struct {
	header textproto.MIMEHeader

	fieldName   string
	fileName    string
	hasFileName bool
	contentType string

	s    *scanner
	done bool
}

func newPart(s *scanner, hdr textproto.MIMEHeader) *Part {
	p := &Part{header: hdr, s: s}
	if cd := hdr.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			p.fieldName = params["name"]
			p.fileName, p.hasFileName = params["filename"]
		}
	}
	p.contentType = hdr.Get("Content-Type")
	return p
}

// FormName returns the form-field name from the Content-Disposition header.
func (p *Part) FormName() string { return p.fieldName }

// FileName returns the client-supplied file name, empty for plain fields.
func (p *Part) FileName() string { return p.fileName }

// ContentType returns the part's own Content-Type header value.
func (p *Part) ContentType() string { return p.contentType }

// Header returns the raw MIME header block of the part.
func (p *Part) Header() textproto.MIMEHeader { return p.header }

// Read streams the part body, stopping just before the boundary delimiter
// that terminates it. The delimiter itself is left for the scanner.
func (p *Part) Read(b []byte) (int, error) {
	if p.done {
		return 0, io.EOF
	}
	s := p.s

	window, err := s.br.Peek(s.bufSize)
	if len(window) == 0 {
		if err == io.EOF {
			return 0, ErrMalformed
		}
		if err != nil {
			return 0, err
		}
	}

	if idx := bytes.Index(window, s.delim); idx >= 0 {
		if idx == 0 {
			p.done = true
			return 0, io.EOF
		}
		return s.br.Read(b[:min(len(b), idx)])
	}

	// No delimiter in the window; emit everything except a tail that could
	// still grow into one.
	safe := len(window) - overlap(window, s.delim)
	if safe <= 0 {
		if err == io.EOF {
			// The remainder is a bare delimiter prefix and the stream is
			// done: the terminal boundary never arrived.
			return 0, ErrMalformed
		}
		if err != nil {
			return 0, err
		}
		// Unreachable with bufSize >= 2*len(delim); fail loudly over looping.
		return 0, ErrMalformed
	}
	return s.br.Read(b[:min(len(b), safe)])
}

// discard consumes the rest of the part body.
func (p *Part) discard() error {
	_, err := io.Copy(io.Discard, p)
	return err
}

// partKind is the classifier verdict for a scanned part.
type partKind int

const (
	formField partKind = iota
	fileField
)

// classify inspects a part's headers: a part is a file field iff its
// Content-Disposition carries a filename attribute, even an empty one. An
// empty filename means the client submitted a file input with no file
// selected.
func classify(p *Part) partKind {
	if p.hasFileName {
		return fileField
	}
	return formField
}
