package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// CookieSource resolves the configured cookie setting into a concrete
// cookie map. Three forms are accepted: a JSON object, a "k=v; k=v"
// list, or an http(s) URL whose response body is one of the former two.
// Resolution happens lazily on first use and is cached for the life of
// the process.
type CookieSource struct {
	raw    string
	apiKey string
	client *http.Client

	once    sync.Once
	cookies map[string]string
	err     error
}

// NewCookieSource returns a source for the given raw setting. An empty
// raw value resolves to nil cookies. The API key, when set, is sent as a
// bearer token when the raw value is a URL.
func NewCookieSource(raw, apiKey string, client *http.Client) *CookieSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &CookieSource{raw: raw, apiKey: apiKey, client: client}
}

// Resolve returns the cookie map, fetching and parsing it on first call.
func (s *CookieSource) Resolve(ctx context.Context) (map[string]string, error) {
	s.once.Do(func() {
		s.cookies, s.err = s.resolve(ctx)
	})
	return s.cookies, s.err
}

func (s *CookieSource) resolve(ctx context.Context) (map[string]string, error) {
	content := strings.TrimSpace(s.raw)
	if content == "" {
		return nil, nil
	}

	if strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
		fetched, err := s.fetch(ctx, content)
		if err != nil {
			return nil, err
		}
		content = strings.TrimSpace(fetched)
	}

	return parseCookies(content)
}

func (s *CookieSource) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building cookie request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching cookies: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching cookies: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading cookie response: %w", err)
	}
	return string(body), nil
}

// parseCookies parses either a JSON object or a "k=v; k=v" list.
func parseCookies(content string) (map[string]string, error) {
	if strings.HasPrefix(content, "{") {
		cookies := map[string]string{}
		if err := json.Unmarshal([]byte(content), &cookies); err != nil {
			return nil, fmt.Errorf("parsing cookie JSON: %w", err)
		}
		return cookies, nil
	}

	cookies := map[string]string{}
	for _, pair := range strings.Split(content, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cookies[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return cookies, nil
}

// cookieHeader renders a cookie map as a Cookie header value.
func cookieHeader(cookies map[string]string) string {
	pairs := make([]string, 0, len(cookies))
	for k, v := range cookies {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, "; ")
}
