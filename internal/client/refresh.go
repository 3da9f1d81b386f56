package client

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc obtains a new bearer token from the credential endpoint.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshCoordinator deduplicates concurrent credential refresh attempts:
// while one is in flight, every caller waits on it and receives the same
// result. A refresh that fails yields an empty token, never an error, so
// callers uniformly treat "" as "could not refresh".
type RefreshCoordinator struct {
	group   singleflight.Group
	refresh RefreshFunc
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewRefreshCoordinator creates a coordinator seeded with the initial token,
// which may be empty for unauthenticated deployments.
func NewRefreshCoordinator(initial string, refresh RefreshFunc, logger *slog.Logger) *RefreshCoordinator {
	return &RefreshCoordinator{
		refresh: refresh,
		logger:  logger,
		token:   initial,
	}
}

// Token returns the current bearer token.
func (c *RefreshCoordinator) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the current bearer token.
func (c *RefreshCoordinator) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Refresh obtains a fresh token, sharing any in-flight attempt with concurrent
// callers. The in-flight marker clears once the attempt completes, so the next
// 401 can trigger a new one. Returns "" when the credential could not be
// refreshed.
func (c *RefreshCoordinator) Refresh(ctx context.Context) string {
	if c.refresh == nil {
		return ""
	}

	v, _, shared := c.group.Do("refresh", func() (any, error) {
		token, err := c.refresh(ctx)
		if err != nil {
			credentialRefreshes.WithLabelValues("failure").Inc()
			c.logger.Warn("credential refresh failed", "error", err)
			return "", nil
		}
		credentialRefreshes.WithLabelValues("success").Inc()
		c.SetToken(token)
		return token, nil
	})
	if shared {
		c.logger.Debug("credential refresh shared with concurrent caller")
	}
	return v.(string)
}
