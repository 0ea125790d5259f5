package multipart

import (
	"bufio"
	"bytes"
	"io"
	"net/textproto"
	"strings"
)

// scanner splits a request body into parts at the multipart boundary. It
// reads through a fixed-size buffer and never loads a whole part into
// memory; boundary matches that straddle two buffer fills are handled by
// holding back any trailing bytes that could begin the delimiter.
type scanner struct {
	br      *bufio.Reader
	tp      *textproto.Reader
	delim   []byte // "\r\n--" + boundary
	bufSize int

	cur      *Part
	started  bool
	sawFinal bool
}

func newScanner(r io.Reader, boundary string, bufSize int) *scanner {
	delim := []byte("\r\n--" + boundary)
	if bufSize < 2*len(delim) {
		bufSize = 2 * len(delim)
	}
	br := bufio.NewReaderSize(r, bufSize)
	return &scanner{
		br:      br,
		tp:      textproto.NewReader(br),
		delim:   delim,
		bufSize: bufSize,
	}
}

// Next drains the current part, consumes the delimiter that ended it, and
// returns the next part. It returns io.EOF once the terminal boundary has
// been consumed, and ErrMalformed when the stream ends without one.
func (s *scanner) Next() (*Part, error) {
	if s.sawFinal {
		return nil, io.EOF
	}

	if !s.started {
		if err := s.readPreamble(); err != nil {
			return nil, err
		}
		s.started = true
	} else {
		if s.cur != nil {
			if err := s.cur.discard(); err != nil {
				return nil, err
			}
			s.cur = nil
		}
		if err := s.consumeDelim(); err != nil {
			return nil, err
		}
	}

	if s.sawFinal {
		return nil, io.EOF
	}

	hdr, err := s.tp.ReadMIMEHeader()
	if err != nil {
		return nil, ErrMalformed
	}
	s.cur = newPart(s, hdr)
	return s.cur, nil
}

// readPreamble skips everything up to and including the first boundary line.
// Unlike later delimiters the first one carries no leading CRLF. Lines are
// scanned through the reader's fixed buffer; a line too long to fit cannot
// be a boundary line, so it is skipped without ever being retained and
// memory stays bounded no matter how much preamble the client sends.
func (s *scanner) readPreamble() error {
	dashBoundary := string(s.delim[2:]) // "--" + boundary
	for {
		line, err := s.br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			if !s.skipRestOfLine() {
				return ErrMalformed
			}
			continue
		}
		trimmed := strings.TrimRight(string(line), " \t\r\n")
		switch trimmed {
		case dashBoundary:
			return nil
		case dashBoundary + "--":
			s.sawFinal = true
			return nil
		}
		if err != nil {
			return ErrMalformed
		}
	}
}

// skipRestOfLine discards input through the next newline one buffer fill at
// a time. It reports false when the stream ends before a newline arrives.
func (s *scanner) skipRestOfLine() bool {
	for {
		switch _, err := s.br.ReadSlice('\n'); err {
		case nil:
			return true
		case bufio.ErrBufferFull:
		default:
			return false
		}
	}
}

// consumeDelim eats the delimiter a finished part body stopped in front of,
// then either the terminal "--" or the line end that precedes the next part
// header block. Transport padding before the line end is tolerated.
func (s *scanner) consumeDelim() error {
	if _, err := s.br.Discard(len(s.delim)); err != nil {
		return ErrMalformed
	}
	tail, err := s.br.Peek(2)
	if err == nil && bytes.Equal(tail, []byte("--")) {
		s.br.Discard(2)
		s.sawFinal = true
		return nil
	}
	for {
		c, err := s.br.ReadByte()
		if err != nil {
			return ErrMalformed
		}
		switch c {
		case ' ', '\t', '\r':
		case '\n':
			return nil
		default:
			return ErrMalformed
		}
	}
}

// overlap returns the length of the longest suffix of window that is a
// proper prefix of delim. Those bytes may still turn into a boundary once
// more data arrives, so the part body reader must not emit them yet.
func overlap(window, delim []byte) int {
	max := len(delim) - 1
	if max > len(window) {
		max = len(window)
	}
	for k := max; k > 0; k-- {
		if bytes.Equal(window[len(window)-k:], delim[:k]) {
			return k
		}
	}
	return 0
}
