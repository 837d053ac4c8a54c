package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/unklstewy/equinox/internal/config"
	"github.com/unklstewy/equinox/pkg/healthcheck"
	"github.com/unklstewy/equinox/pkg/session"
)

// OpenStore opens the session store selected by cfg. The returned function
// releases it.
func OpenStore(ctx context.Context, cfg config.SessionConfig) (session.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		return session.NewMemoryStore(), func() {}, nil
	case config.StoreFile:
		store, err := session.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session file: %w", err)
		}
		return store, func() {}, nil
	case config.StorePostgres:
		store, err := session.NewPostgresStore(ctx, cfg.DSN, cfg.Namespace)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session database: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

func (p *Poller) close() {
	if p.closeStore != nil {
		p.closeStore()
	}
}

// sessionCheck is degraded when the signed-in token has expired. Anonymous
// sessions are healthy since public endpoints need no token.
func (p *Poller) sessionCheck(ctx context.Context) *healthcheck.Result {
	result := &healthcheck.Result{
		ComponentName: "session",
		Status:        healthcheck.StatusHealthy,
		Message:       "Anonymous session",
		Timestamp:     time.Now(),
		Details: map[string]interface{}{
			"signed_in": p.session.SignedIn(),
			"host":      p.session.Host(),
		},
	}
	if !p.session.SignedIn() {
		return result
	}

	result.Message = "Session is signed in"
	if claims, err := p.session.Claims(); err == nil && !claims.ExpiresAt.IsZero() {
		result.Details["expires_at"] = claims.ExpiresAt
	}
	if p.session.Expired(time.Now()) {
		result.Status = healthcheck.StatusDegraded
		result.Message = "Session token has expired"
	}
	return result
}
