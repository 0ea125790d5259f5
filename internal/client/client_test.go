package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// receivedPart captures one part of the multipart body the server saw.
type receivedPart struct {
	fieldName string
	fileName  string
	content   string
}

func newCaptureServer(t *testing.T, status int, body any, got *[]receivedPart) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("body is not multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("failed to read part: %v", err)
				break
			}
			data, _ := io.ReadAll(part)
			*got = append(*got, receivedPart{
				fieldName: part.FormName(),
				fileName:  part.FileName(),
				content:   string(data),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Tests

func TestSend(t *testing.T) {
	t.Run("streams fields and files", func(t *testing.T) {
		var got []receivedPart
		srv := newCaptureServer(t, http.StatusCreated, map[string]any{
			"uploads": []map[string]any{
				{"id": "abc123", "filename": "hello.txt", "size": 5},
			},
			"errors": []any{},
		}, &got)
		defer srv.Close()

		path := writeTempFile(t, "hello.txt", "hello")
		c := New(srv.URL, srv.Client())

		resp, err := c.Send(context.Background(), []LocalFile{{Path: path, Name: "hello.txt"}}, UploadOptions{
			Password:    "secret",
			ExpiryHours: 2,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(resp.Uploads) != 1 {
			t.Fatalf("expected 1 upload in response, got %d", len(resp.Uploads))
		}
		if resp.Uploads[0].ID != "abc123" {
			t.Errorf("expected upload id abc123, got %s", resp.Uploads[0].ID)
		}

		if len(got) != 3 {
			t.Fatalf("expected 3 parts on the wire, got %d", len(got))
		}
		if got[0].fieldName != "password" || got[0].content != "secret" {
			t.Errorf("expected password field first, got %+v", got[0])
		}
		if got[1].fieldName != "expiry_hours" || got[1].content != "2" {
			t.Errorf("expected expiry_hours field, got %+v", got[1])
		}
		if got[2].fieldName != FileField || got[2].fileName != "hello.txt" || got[2].content != "hello" {
			t.Errorf("expected file part, got %+v", got[2])
		}
	})

	t.Run("omits empty option fields", func(t *testing.T) {
		var got []receivedPart
		srv := newCaptureServer(t, http.StatusCreated, map[string]any{
			"uploads": []map[string]any{{"id": "x"}},
			"errors":  []any{},
		}, &got)
		defer srv.Close()

		path := writeTempFile(t, "data.bin", "payload")
		c := New(srv.URL, srv.Client())

		_, err := c.Send(context.Background(), []LocalFile{{Path: path, Name: "data.bin"}}, UploadOptions{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(got) != 1 {
			t.Fatalf("expected only the file part, got %d parts", len(got))
		}
		if got[0].fieldName != FileField {
			t.Errorf("expected field %q, got %q", FileField, got[0].fieldName)
		}
	})

	t.Run("rejected request still decodes errors", func(t *testing.T) {
		var got []receivedPart
		srv := newCaptureServer(t, http.StatusBadRequest, map[string]any{
			"uploads": []any{},
			"errors": []map[string]any{
				{"key": "upload.error.fileCountLimit", "args": []any{1, 2}},
			},
		}, &got)
		defer srv.Close()

		path := writeTempFile(t, "too-many.txt", "x")
		c := New(srv.URL, srv.Client())

		resp, err := c.Send(context.Background(), []LocalFile{{Path: path, Name: "too-many.txt"}}, UploadOptions{})
		if err != nil {
			t.Fatalf("expected no transport error, got %v", err)
		}
		if len(resp.Uploads) != 0 {
			t.Errorf("expected no uploads, got %d", len(resp.Uploads))
		}
		if len(resp.Errors) != 1 || resp.Errors[0].Key != "upload.error.fileCountLimit" {
			t.Errorf("expected fileCountLimit error, got %+v", resp.Errors)
		}
	})

	t.Run("server error status returns error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}))
		defer srv.Close()

		path := writeTempFile(t, "f.txt", "x")
		c := New(srv.URL, srv.Client())

		_, err := c.Send(context.Background(), []LocalFile{{Path: path, Name: "f.txt"}}, UploadOptions{})
		if err == nil {
			t.Fatal("expected error for 500 response")
		}
	})

	t.Run("missing local file fails the request", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"uploads": []any{}, "errors": []any{}})
		}))
		defer srv.Close()

		c := New(srv.URL, srv.Client())
		_, err := c.Send(context.Background(), []LocalFile{{Path: "/nonexistent/file.txt", Name: "file.txt"}}, UploadOptions{})
		if err == nil {
			t.Fatal("expected error for missing local file")
		}
	})
}

func TestDetectContentType(t *testing.T) {
	if ct := detectContentType("report.json"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if ct := detectContentType("blob"); ct != "application/octet-stream" {
		t.Errorf("expected application/octet-stream fallback, got %s", ct)
	}
}
