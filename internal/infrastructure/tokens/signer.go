package tokens

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

// Token scopes.
const (
	ScopePreferences = "prefs"
	ScopePause       = "pause"
	ScopeUnsubscribe = "unsubscribe"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Signer issues tokens locally as base64url(user|scope|expiry).base64url(hmac).
type Signer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

var _ ports.TokenIssuer = (*Signer)(nil)

// NewSigner builds a signer; clock may be nil.
func NewSigner(key string, ttl time.Duration, clock func() time.Time) (*Signer, error) {
	if len(key) < 16 {
		return nil, errors.New("token signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &Signer{key: []byte(key), ttl: ttl, clock: clock}, nil
}

// IssueScopedTokens signs one token per scope.
func (s *Signer) IssueScopedTokens(_ context.Context, userID string) (domain.LinkTokens, error) {
	if strings.ContainsRune(userID, '|') || userID == "" {
		return domain.LinkTokens{}, fmt.Errorf("issue tokens: invalid user id %q", userID)
	}
	expires := s.clock().Add(s.ttl).Unix()
	return domain.LinkTokens{
		Preferences: s.sign(userID, ScopePreferences, expires),
		Pause:       s.sign(userID, ScopePause, expires),
		Unsubscribe: s.sign(userID, ScopeUnsubscribe, expires),
	}, nil
}

// Verify checks a token for the scope and returns its user id.
func (s *Signer) Verify(token, scope string) (string, error) {
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || !hmac.Equal(sig, s.mac(payload)) {
		return "", ErrInvalidToken
	}
	fields := strings.Split(string(payload), "|")
	if len(fields) != 3 || fields[1] != scope {
		return "", ErrInvalidToken
	}
	expires, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if s.clock().Unix() >= expires {
		return "", ErrExpiredToken
	}
	return fields[0], nil
}

func (s *Signer) sign(userID, scope string, expires int64) string {
	payload := []byte(userID + "|" + scope + "|" + strconv.FormatInt(expires, 10))
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(s.mac(payload))
}

func (s *Signer) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return h.Sum(nil)
}
