// Package comfy is the client for the ComfyUI engine: queueing prompts,
// reading execution history, streaming status, and uploading input media.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
)

// NodeOutput is one node's raw output record as reported by the engine
// ("images", "gifs", "audio", "text" keys).
type NodeOutput map[string]any

// HistoryStatus is the status block of a history entry.
type HistoryStatus struct {
	StatusStr string              `json:"status_str"`
	Completed bool                `json:"completed"`
	Messages  [][]json.RawMessage `json:"messages"`
}

// ErrorMessages extracts the exception messages from the entry's
// "execution_error" messages, one per line.
func (s *HistoryStatus) ErrorMessages() string {
	var errs []string
	for _, msg := range s.Messages {
		if len(msg) != 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(msg[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var body struct {
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg[1], &body); err == nil && body.ExceptionMessage != "" {
			errs = append(errs, body.ExceptionMessage)
		}
	}
	if len(errs) == 0 {
		return "unknown error"
	}
	return strings.Join(errs, "\n")
}

// HistoryEntry is the engine's record for a finished or running prompt.
type HistoryEntry struct {
	Status  *HistoryStatus        `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// Client talks to a single ComfyUI instance.
type Client struct {
	baseURL    string
	apiKey     string
	rawCookies string
	cookies    *CookieSource
	http       *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithAPIKey sets the bearer token sent on every request and injected
// into prompt submissions.
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

// WithCookies sets the raw cookie configuration (JSON / k=v list / URL).
func WithCookies(raw string) Option {
	return func(cl *Client) { cl.rawCookies = raw }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cookies = NewCookieSource(c.rawCookies, c.apiKey, c.http)
	return c
}

// BaseURL returns the engine base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// APIKey returns the configured engine credential, if any.
func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	cookies, err := c.cookies.Resolve(ctx)
	if err != nil {
		c.logger.Warn("resolving engine cookies failed", "err", err)
	}
	for k, v := range cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	return req, nil
}

// Submit queues a prompt graph for execution and returns the engine's
// prompt id. Extra key/values are merged into the request body (the
// engine credential travels under extra_data).
func (c *Client) Submit(ctx context.Context, graph map[string]any, clientID string, extra map[string]any) (string, error) {
	body := map[string]any{
		"prompt":    graph,
		"client_id": clientID,
	}
	for k, v := range extra {
		body[k] = v
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding prompt: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("building prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submitting prompt: [%d] %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding prompt response: %w", err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("prompt response carried no prompt_id")
	}
	c.logger.Info("prompt queued", "prompt_id", result.PromptID)
	return result.PromptID, nil
}

// History fetches the engine's history record for a prompt. The second
// return value reports whether an entry exists yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, false, fmt.Errorf("building history request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("fetching history: HTTP %d", resp.StatusCode)
	}

	var records map[string]*HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, false, fmt.Errorf("decoding history: %w", err)
	}
	entry, ok := records[promptID]
	if !ok || entry == nil {
		return nil, false, nil
	}
	return entry, true, nil
}

// Download fetches an engine-served file (typically a /view URL),
// carrying the configured credential and cookies.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fileURL, nil)
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

// UploadMedia posts a file to the engine's media upload endpoint and
// returns the engine-assigned handle for use as a node input value.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
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

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("uploading media: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if result.Name == "" {
		return "", fmt.Errorf("upload response carried no name")
	}
	return result.Name, nil
}

// ViewURL builds the engine URL serving an output file.
func (c *Client) ViewURL(filename, subfolder, fileType string) string {
	u := c.baseURL + "/view?filename=" + url.QueryEscape(filename)
	if subfolder != "" {
		u += "&subfolder=" + url.QueryEscape(subfolder)
	}
	if fileType != "" {
		u += "&type=" + url.QueryEscape(fileType)
	}
	return u
}
