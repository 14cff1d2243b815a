package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

const (
	// DefaultUserAgent presents a regular desktop browser; many publishers
	// reject obvious bot identities outright.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout   = 10 * time.Second
	maxBodyBytes     = 2 << 20
	maxRedirects     = 5
)

// HTTPFetcher retrieves documents over HTTP, following redirects.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

var _ ports.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher wires an HTTP client; timeout bounds each request.
func NewHTTPFetcher(client *http.Client, userAgent string, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if client.CheckRedirect == nil {
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, timeout: timeout}
}

// Get returns the final response. Non-2xx responses are not errors; the
// caller classifies them by status code.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (domain.FetchedDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.FetchedDocument{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.FetchedDocument{}, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.FetchedDocument{}, fmt.Errorf("read body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return domain.FetchedDocument{
		StatusCode:  resp.StatusCode,
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
