package tryon

import (
	"sync"
	"time"

	"tryon/internal/domain"
)

// TokenSource is a provider's credential-signing strategy.
type TokenSource interface {
	Sign(now time.Time) (domain.SignedToken, error)
}

// tokenCache reuses a signed token until it is within margin of expiry.
// It is safe for concurrent use by every job of one provider.
type tokenCache struct {
	mu      sync.Mutex
	source  TokenSource
	margin  time.Duration
	now     func() time.Time
	current domain.SignedToken
}

func newTokenCache(source TokenSource, margin time.Duration, now func() time.Time) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{source: source, margin: margin, now: now}
}

func (c *tokenCache) Token() (domain.SignedToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.current.ValidAt(now, c.margin) {
		return c.current, nil
	}
	token, err := c.source.Sign(now)
	if err != nil {
		return domain.SignedToken{}, err
	}
	c.current = token
	return token, nil
}

// Invalidate drops the cached token if it is still the one that was rejected.
func (c *tokenCache) Invalidate(rejected domain.SignedToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Value == rejected.Value {
		c.current = domain.SignedToken{}
	}
}

// Refresh discards rejected and signs a fresh token.
func (c *tokenCache) Refresh(rejected domain.SignedToken) (domain.SignedToken, error) {
	c.Invalidate(rejected)
	return c.Token()
}
