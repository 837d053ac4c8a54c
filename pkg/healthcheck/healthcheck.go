// Package healthcheck provides health result types and an engine that
// aggregates them across components.
package healthcheck

import (
	"context"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is functioning normally
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component works but needs attention
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not functioning
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates no result could be produced
	StatusUnknown Status = "unknown"
)

// Result contains the health check result for a component.
type Result struct {
	ComponentName string                 `json:"component"`
	Status        Status                 `json:"status"`
	Message       string                 `json:"message,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Duration      time.Duration          `json:"duration"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Checker is implemented by anything that can report its health.
type Checker interface {
	Check(ctx context.Context) *Result
	Name() string
}

// namedFunc adapts a function into a Checker with an explicit name.
type namedFunc struct {
	name string
	fn   func(ctx context.Context) *Result
}

func (n namedFunc) Check(ctx context.Context) *Result { return n.fn(ctx) }
func (n namedFunc) Name() string                      { return n.name }

// CheckerFunc wraps fn as a Checker called name.
func CheckerFunc(name string, fn func(ctx context.Context) *Result) Checker {
	return namedFunc{name: name, fn: fn}
}

// AggregatedResult contains health check results from multiple components.
type AggregatedResult struct {
	OverallStatus Status             `json:"status"`
	Components    map[string]*Result `json:"components"`
	Timestamp     time.Time          `json:"timestamp"`
}

// IsHealthy returns true if the overall status is healthy.
func (ar *AggregatedResult) IsHealthy() bool {
	return ar.OverallStatus == StatusHealthy
}

// IsUnhealthy returns true if the overall status is unhealthy.
func (ar *AggregatedResult) IsUnhealthy() bool {
	return ar.OverallStatus == StatusUnhealthy
}

// DetermineOverallStatus folds component results into one status: any
// unhealthy component wins, then degraded or unknown ones.
func DetermineOverallStatus(results map[string]*Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			overall = StatusDegraded
		}
	}
	return overall
}
