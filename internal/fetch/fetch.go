// Package fetch downloads web pages and extracts their readable text.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const maxBody = 4 << 20

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Fetcher retrieves pages with a fixed User-Agent.
type Fetcher struct {
	client    HTTPClient
	userAgent string
}

// NewHTTPClient returns the client used for upstream requests.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// New creates a Fetcher. A nil client gets NewHTTPClient(0).
func New(client HTTPClient, userAgent string) *Fetcher {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if userAgent == "" {
		userAgent = "toolscout/1.0"
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Get returns the response body of pageURL. Responses of 400 and above
// yield a *StatusError.
func (f *Fetcher) Get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{URL: pageURL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}
	return body, nil
}

// Extract returns the main text of an already downloaded page as found by
// readability. Pages without extractable text return "".
func Extract(body []byte, pageURL string) string {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}
