package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileField is the multipart form field name file parts are sent under.
const FileField = "file"

// Client uploads files to an intake server.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
	}
}

// UploadOptions are the per-request settings sent as form fields.
type UploadOptions struct {
	Password    string
	ExpiryHours float64
}

// Upload mirrors one accepted file in the server response.
type Upload struct {
	ID            string    `json:"id"`
	FieldName     string    `json:"field_name"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	DownloadURL   string    `json:"download_url"`
	DeletionToken string    `json:"deletion_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ParseError mirrors one parse error record in the server response.
type ParseError struct {
	Key  string `json:"key"`
	Args []any  `json:"args"`
}

// Response is the server's answer to an upload request. A request can
// partially succeed: some files accepted, some rejected with errors.
type Response struct {
	Uploads []*Upload    `json:"uploads"`
	Errors  []ParseError `json:"errors"`
}

// Send streams the given files to the server as one multipart request.
// The body is produced through a pipe so files of any size upload
// without buffering in memory.
func (c *Client) Send(ctx context.Context, files []LocalFile, opts UploadOptions) (*Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeBody(mw, files, opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusBadRequest:
		var out Response
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &out, nil
	default:
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			return nil, fmt.Errorf("server rejected upload (%d): %s", resp.StatusCode, body.Error)
		}
		return nil, fmt.Errorf("server rejected upload: status %d", resp.StatusCode)
	}
}

// writeBody produces the multipart form: the option fields first, then
// one part per file. Closing the writer emits the terminal boundary.
func writeBody(mw *multipart.Writer, files []LocalFile, opts UploadOptions) error {
	if opts.Password != "" {
		if err := mw.WriteField("password", opts.Password); err != nil {
			return err
		}
	}
	if opts.ExpiryHours > 0 {
		v := strconv.FormatFloat(opts.ExpiryHours, 'f', -1, 64)
		if err := mw.WriteField("expiry_hours", v); err != nil {
			return err
		}
	}

	for _, file := range files {
		if err := writeFilePart(mw, file); err != nil {
			return fmt.Errorf("failed to send %s: %w", file.Path, err)
		}
	}

	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, file LocalFile) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, file.Name))
	header.Set("Content-Type", detectContentType(file.Name))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(part, f)
	return err
}

func detectContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
