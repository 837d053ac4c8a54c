package healthcheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func fixed(name string, status Status) Checker {
	return CheckerFunc(name, func(ctx context.Context) *Result {
		return &Result{ComponentName: name, Status: status, Timestamp: time.Now()}
	})
}

func TestDetermineOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{name: "no components", statuses: nil, want: StatusUnknown},
		{name: "all healthy", statuses: []Status{StatusHealthy, StatusHealthy}, want: StatusHealthy},
		{name: "one degraded", statuses: []Status{StatusHealthy, StatusDegraded}, want: StatusDegraded},
		{name: "unknown counts as degraded", statuses: []Status{StatusHealthy, StatusUnknown}, want: StatusDegraded},
		{name: "unhealthy wins", statuses: []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(map[string]*Result)
			for i, s := range tt.statuses {
				results[string(rune('a'+i))] = &Result{Status: s}
			}
			assert.Equal(t, tt.want, DetermineOverallStatus(results))
		})
	}
}

func TestEngineCheckAll(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	engine.Register(fixed("profile", StatusHealthy))
	engine.Register(fixed("feed", StatusDegraded))
	engine.Register(CheckerFunc("broken", func(ctx context.Context) *Result { return nil }))

	assert.Equal(t, []string{"broken", "feed", "profile"}, engine.Names())

	result := engine.CheckAll(context.Background())
	assert.Len(t, result.Components, 3)
	assert.Equal(t, StatusDegraded, result.OverallStatus)
	assert.Equal(t, StatusUnknown, result.Components["broken"].Status)
	assert.False(t, result.IsHealthy())
	assert.False(t, result.IsUnhealthy())

	engine.Unregister("broken")
	engine.Unregister("feed")
	result = engine.CheckAll(context.Background())
	assert.True(t, result.IsHealthy())
}

func TestEngineRegisterReplacesByName(t *testing.T) {
	engine := NewEngine(nil)
	engine.Register(fixed("svc", StatusUnhealthy))
	engine.Register(fixed("svc", StatusHealthy))

	result := engine.CheckAll(context.Background())
	assert.Len(t, result.Components, 1)
	assert.Equal(t, StatusHealthy, result.OverallStatus)
}
