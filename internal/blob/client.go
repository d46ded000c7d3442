// Package blob is the client for the file store that re-hosts engine
// outputs: upload returns a stable URL, download returns bytes.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Client talks to a blob store exposing POST /upload and GET by URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a client for the store at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload stores raw bytes under the given filename (generated when
// empty) and returns the file's public URL.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	if filename == "" {
		filename = uuid.New().String() + ".bin"
	}
	return c.post(ctx, data, filename)
}

// UploadFile reads a local file and uploads it. The stored name defaults
// to the file's base name.
func (c *Client) UploadFile(ctx context.Context, filePath, filename string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filePath, err)
	}
	if filename == "" {
		filename = filepath.Base(filePath)
	}
	return c.post(ctx, data, filename)
}

// UploadFromURL downloads srcURL and re-uploads the bytes. The stored
// name is taken from the URL path when it carries an extension,
// otherwise generated from the response content type.
func (c *Client) UploadFromURL(ctx context.Context, srcURL, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", srcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: HTTP %d", srcURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", srcURL, err)
	}

	if filename == "" {
		filename = nameFromURL(srcURL, resp.Header.Get("Content-Type"))
	}
	return c.post(ctx, data, filename)
}

// Download fetches a blob URL's bytes.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: HTTP %d", fileURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", ContentTypeFor(filename, data))
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		text, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("uploading blob: [%d] %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(resp.Body, &result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("upload response carried no url")
	}
	return result.URL, nil
}

// nameFromURL derives a stored filename from a source URL, falling back
// to a generated name with an extension guessed from the content type.
func nameFromURL(srcURL, contentType string) string {
	if parsed, err := url.Parse(srcURL); err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	ext := extFromContentType(contentType)
	return uuid.New().String() + ext
}

// extFromContentType maps a MIME type to a file extension, preferring
// the conventional short forms.
func extFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return ".bin"
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/tiff":
		return ".tif"
	case "text/plain":
		return ".txt"
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
