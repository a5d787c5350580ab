package gateway

import (
	"context"
	"sync"

	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/metrics"
)

// RefreshFunc obtains a new bearer token. An empty token with a nil error
// means no replacement is available.
type RefreshFunc func(ctx context.Context) (string, error)

// Credentials is the single bearer-token slot shared by every call made
// through a Gateway. The token may be rotated at any time by the external
// auth system; calls capture the value at their own start.
type Credentials struct {
	mu      sync.RWMutex
	token   string
	refresh RefreshFunc
}

// NewCredentials returns a slot holding token and using refresh on 401s.
func NewCredentials(token string, refresh RefreshFunc) *Credentials {
	return &Credentials{token: token, refresh: refresh}
}

// Token returns the current token.
func (c *Credentials) Token() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the stored token.
func (c *Credentials) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetRefresh replaces the refresh function.
func (c *Credentials) SetRefresh(fn RefreshFunc) {
	c.mu.Lock()
	c.refresh = fn
	c.mu.Unlock()
}

// renew invokes the refresh function once. On success the new token is
// stored and returned; ok is false when no token could be obtained.
func (c *Credentials) renew(ctx context.Context) (token string, ok bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	fn := c.refresh
	c.mu.RUnlock()
	if fn == nil {
		return "", false
	}
	tok, err := fn(ctx)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("credential refresh failed")
	}
	if err != nil || tok == "" {
		metrics.RecordCredentialRefresh(false)
		return "", false
	}
	c.SetToken(tok)
	metrics.RecordCredentialRefresh(true)
	return tok, true
}
