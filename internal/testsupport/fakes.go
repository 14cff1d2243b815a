package testsupport

import (
	"context"
	"sync"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

// Generator is a scripted ports.Generator safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	handler func(req ports.GenerateRequest) (string, error)
	calls   []ports.GenerateRequest
}

var _ ports.Generator = (*Generator)(nil)

// NewGenerator returns a generator answering every call with handler.
func NewGenerator(handler func(req ports.GenerateRequest) (string, error)) *Generator {
	return &Generator{handler: handler}
}

// Generate records the request and delegates to the handler.
func (g *Generator) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	handler := g.handler
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if handler == nil {
		return "", nil
	}
	return handler(req)
}

// Calls returns a copy of the recorded requests.
func (g *Generator) Calls() []ports.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.GenerateRequest(nil), g.calls...)
}

// SentMessage is one delivery captured by Sender.
type SentMessage struct {
	To      string
	Subject string
	HTML    string
}

// Sender captures deliveries; Err makes every send fail.
type Sender struct {
	mu   sync.Mutex
	Err  error
	sent []SentMessage
}

var _ ports.Sender = (*Sender)(nil)

func (s *Sender) Send(_ context.Context, to, subject, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sent = append(s.sent, SentMessage{To: to, Subject: subject, HTML: html})
	return nil
}

// Sent returns a copy of the captured deliveries.
func (s *Sender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// TokenIssuer returns fixed tokens derived from the user id.
type TokenIssuer struct {
	Err error
}

var _ ports.TokenIssuer = (*TokenIssuer)(nil)

func (i *TokenIssuer) IssueScopedTokens(_ context.Context, userID string) (domain.LinkTokens, error) {
	if i.Err != nil {
		return domain.LinkTokens{}, i.Err
	}
	return domain.LinkTokens{
		Preferences: "prefs-" + userID,
		Pause:       "pause-" + userID,
		Unsubscribe: "unsub-" + userID,
	}, nil
}
