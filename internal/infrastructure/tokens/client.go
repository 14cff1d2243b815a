package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

// Client talks to an external token service that issues recipient-scoped
// link tokens.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.TokenIssuer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     httpClient,
	}
}

// IssueScopedTokens requests fresh preference, pause and unsubscribe tokens.
func (c *Client) IssueScopedTokens(ctx context.Context, userID string) (domain.LinkTokens, error) {
	var tokens domain.LinkTokens
	if err := c.post(ctx, "/tokens", map[string]any{
		"userId": userID,
		"scopes": []string{ScopePreferences, ScopePause, ScopeUnsubscribe},
	}, &tokens); err != nil {
		return domain.LinkTokens{}, err
	}
	if tokens.Preferences == "" || tokens.Pause == "" || tokens.Unsubscribe == "" {
		return domain.LinkTokens{}, fmt.Errorf("token service returned incomplete tokens")
	}
	return tokens, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
