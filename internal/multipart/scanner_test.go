package multipart

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

const (
	testBoundary = "intakeBoundary1234567890"
	crlf         = "\r\n"
)

// fieldPart renders one form-field section of a multipart body.
func fieldPart(name, value string) string {
	return "--" + testBoundary + crlf +
		fmt.Sprintf("Content-Disposition: form-data; name=%q", name) + crlf +
		crlf +
		value + crlf
}

// filePart renders one file section of a multipart body.
func filePart(field, filename, contentType, content string) string {
	return "--" + testBoundary + crlf +
		fmt.Sprintf("Content-Disposition: form-data; name=%q; filename=%q", field, filename) + crlf +
		"Content-Type: " + contentType + crlf +
		crlf +
		content + crlf
}

func closeDelim() string {
	return "--" + testBoundary + "--" + crlf
}

func TestScanner_TwoParts(t *testing.T) {
	body := fieldPart("title", "hello world") +
		filePart("doc", "notes.txt", "text/plain", "line one\nline two") +
		closeDelim()

	sc := newScanner(strings.NewReader(body), testBoundary, 64)

	p1, err := sc.Next()
	if err != nil {
		t.Fatalf("first part: %v", err)
	}
	if p1.FormName() != "title" {
		t.Errorf("expected field name title, got %q", p1.FormName())
	}
	if classify(p1) != formField {
		t.Error("expected a form field")
	}
	data, err := io.ReadAll(p1)
	if err != nil {
		t.Fatalf("reading first part: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("unexpected body: %q", data)
	}

	p2, err := sc.Next()
	if err != nil {
		t.Fatalf("second part: %v", err)
	}
	if p2.FormName() != "doc" || p2.FileName() != "notes.txt" {
		t.Errorf("unexpected part headers: %q %q", p2.FormName(), p2.FileName())
	}
	if p2.ContentType() != "text/plain" {
		t.Errorf("unexpected content type: %q", p2.ContentType())
	}
	if classify(p2) != fileField {
		t.Error("expected a file field")
	}
	data, err = io.ReadAll(p2)
	if err != nil {
		t.Fatalf("reading second part: %v", err)
	}
	if string(data) != "line one\nline two" {
		t.Errorf("unexpected body: %q", data)
	}

	if _, err := sc.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after terminal boundary, got %v", err)
	}
}

func TestScanner_BoundarySplitAcrossBuffers(t *testing.T) {
	// Content riddled with near-boundary prefixes, scanned with the
	// smallest buffer the scanner accepts, so delimiter candidates keep
	// straddling buffer fills.
	content := strings.Repeat("abc\r\n--intakeBoundary12345", 400)
	body := filePart("blob", "blob.bin", "application/octet-stream", content) +
		closeDelim()

	sc := newScanner(strings.NewReader(body), testBoundary, 1)

	p, err := sc.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("reading part: %v", err)
	}
	if string(data) != content {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(data), len(content))
	}
	if _, err := sc.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestScanner_SkippedPartIsDrained(t *testing.T) {
	body := fieldPart("first", strings.Repeat("x", 5000)) +
		fieldPart("second", "after") +
		closeDelim()

	sc := newScanner(strings.NewReader(body), testBoundary, 128)

	if _, err := sc.Next(); err != nil {
		t.Fatalf("first part: %v", err)
	}
	// Never read the first part; Next must drain it.
	p2, err := sc.Next()
	if err != nil {
		t.Fatalf("second part: %v", err)
	}
	data, _ := io.ReadAll(p2)
	if string(data) != "after" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestScanner_MissingTerminalBoundary(t *testing.T) {
	body := fieldPart("name", "value") // no closing delimiter

	sc := newScanner(strings.NewReader(body), testBoundary, 64)
	p, err := sc.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := io.ReadAll(p); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestScanner_TruncatedBeforeFirstBoundary(t *testing.T) {
	sc := newScanner(strings.NewReader("just some preamble\r\n"), testBoundary, 64)
	if _, err := sc.Next(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestScanner_EmptyBody(t *testing.T) {
	body := closeDelim()
	sc := newScanner(strings.NewReader(body), testBoundary, 64)
	if _, err := sc.Next(); err != io.EOF {
		t.Errorf("expected io.EOF for a body with no parts, got %v", err)
	}
}

func TestScanner_PreambleAndEpilogueIgnored(t *testing.T) {
	body := "This is the preamble, clients may send it." + crlf +
		fieldPart("k", "v") +
		closeDelim() +
		"epilogue to be ignored"

	sc := newScanner(strings.NewReader(body), testBoundary, 64)
	p, err := sc.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(p)
	if string(data) != "v" {
		t.Errorf("unexpected body: %q", data)
	}
	if _, err := sc.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestScanner_OverlongPreambleLine(t *testing.T) {
	t.Run("boundary still found after it", func(t *testing.T) {
		// A single preamble line far larger than the scan buffer must be
		// skipped chunk by chunk, never accumulated.
		body := strings.Repeat("a", 100000) + crlf +
			fieldPart("k", "v") +
			closeDelim()

		sc := newScanner(strings.NewReader(body), testBoundary, 64)
		p, err := sc.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, _ := io.ReadAll(p)
		if string(data) != "v" {
			t.Errorf("unexpected body: %q", data)
		}
	})

	t.Run("stream ending inside it is malformed", func(t *testing.T) {
		body := strings.Repeat("a", 100000) // no newline, no boundary
		sc := newScanner(strings.NewReader(body), testBoundary, 64)
		if _, err := sc.Next(); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})
}

func TestOverlap(t *testing.T) {
	delim := []byte("\r\n--bound")
	tests := []struct {
		window string
		want   int
	}{
		{"some data", 0},
		{"some data\r", 1},
		{"some data\r\n", 2},
		{"some data\r\n--bou", 7},
		{"\r\n--boun", 8},
		{"data\r\ndata", 0},
	}
	for _, tt := range tests {
		if got := overlap([]byte(tt.window), delim); got != tt.want {
			t.Errorf("overlap(%q) = %d, want %d", tt.window, got, tt.want)
		}
	}
}
