package retriever

import (
	"context"
	"sync"
	"time"

	"github.com/unklstewy/equinox/pkg/healthcheck"
	"go.uber.org/zap"
)

// DefaultDelay is the pause between two iterations of a repeating loop.
const DefaultDelay = 1000 * time.Millisecond

// Routine is the unit of work invoked on every iteration. It must return
// promptly once ctx is cancelled.
type Routine func(ctx context.Context) error

// State is the run state of a Retriever.
type State string

const (
	// StateIdle means no loop is running and Execute may start one
	StateIdle State = "idle"
	// StateRunning means a loop owns the retriever
	StateRunning State = "running"
)

// RetrievingRoutine records the parameters of the last Execute call so the
// loop can be restarted after a suspend.
type RetrievingRoutine struct {
	Context Token
	Routine Routine
	Repeat  bool
	Delay   time.Duration
}

// Stats holds counters about the loops run by a Retriever.
type Stats struct {
	Iterations uint64     `json:"iterations"`
	Failures   uint64     `json:"failures"`
	LastError  string     `json:"last_error,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// Retriever owns at most one background loop. Iterations never overlap, even
// across Suspend and Restart, and Suspend cancels the in-flight iteration
// immediately.
type Retriever struct {
	name     string
	scope    context.Context
	registry *Registry
	logger   *zap.Logger

	mu         sync.RWMutex
	running    bool
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	last       *RetrievingRoutine
	stats      Stats
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithName sets the name used in logs and health results.
func WithName(name string) Option {
	return func(r *Retriever) {
		r.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a retriever whose loops run under scope. Cancelling scope
// stops any running loop and turns later Execute calls into no-ops.
// A nil registry gets a private one.
func New(scope context.Context, registry *Registry, opts ...Option) *Retriever {
	if scope == nil {
		scope = context.Background()
	}
	if registry == nil {
		registry = NewRegistry()
	}

	r := &Retriever{
		name:     "retriever",
		scope:    scope,
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("retriever", r.name))

	closed := make(chan struct{})
	close(closed)
	r.done = closed

	return r
}

// Name returns the retriever name.
func (r *Retriever) Name() string {
	return r.name
}

// Registry returns the registry the retriever consults.
func (r *Retriever) Registry() *Registry {
	return r.registry
}

// CanStart returns true if no loop is currently running.
func (r *Retriever) CanStart() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.running
}

// State returns the current run state.
func (r *Retriever) State() State {
	if r.CanStart() {
		return StateIdle
	}
	return StateRunning
}

// Execute starts a loop for token if none is running. With repeat set the
// loop invokes routine, waits delay and repeats for as long as token is the
// active context. Without repeat, routine runs exactly once. A non-positive
// delay means DefaultDelay. It returns whether a loop was started.
func (r *Retriever) Execute(token Token, routine Routine, repeat bool, delay time.Duration) bool {
	if routine == nil {
		return false
	}
	if delay <= 0 {
		delay = DefaultDelay
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Debug("Loop already running, execute ignored")
		return false
	}
	if r.scope.Err() != nil {
		r.mu.Unlock()
		r.logger.Debug("Owner scope closed, execute ignored")
		return false
	}

	ctx, cancel := context.WithCancel(r.scope)
	rr := RetrievingRoutine{
		Context: token,
		Routine: routine,
		Repeat:  repeat,
		Delay:   delay,
	}
	r.generation++
	gen := r.generation
	prev := r.done
	done := make(chan struct{})

	r.running = true
	r.cancel = cancel
	r.done = done
	r.last = &rr
	startedAt := time.Now()
	r.stats.StartedAt = &startedAt
	r.mu.Unlock()

	r.logger.Debug("Starting loop",
		zap.String("context", token.String()),
		zap.Bool("repeat", repeat),
		zap.Duration("delay", delay))

	go r.run(ctx, gen, prev, done, rr)
	return true
}

// Retrieve is Execute with defaults: repeating every DefaultDelay unless
// overridden by opts.
func (r *Retriever) Retrieve(token Token, routine Routine, opts ...RunOption) bool {
	cfg := runConfig{repeat: true, delay: DefaultDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return r.Execute(token, routine, cfg.repeat, cfg.delay)
}

// Suspend cancels the running loop, aborting an in-flight routine, and
// returns the retriever to idle. The recorded routine is kept for Restart.
func (r *Retriever) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.running {
		r.logger.Debug("Loop suspended")
	}
	r.running = false
}

// Restart re-executes the last recorded routine with its original
// parameters. It is a no-op returning false when nothing was recorded.
func (r *Retriever) Restart() bool {
	rr, ok := r.Last()
	if !ok {
		return false
	}
	return r.Execute(rr.Context, rr.Routine, rr.Repeat, rr.Delay)
}

// Close suspends the loop and forgets the recorded routine.
func (r *Retriever) Close() {
	r.Suspend()

	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

// Last returns the routine recorded by the most recent Execute.
func (r *Retriever) Last() (RetrievingRoutine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return RetrievingRoutine{}, false
	}
	return *r.last, true
}

// Done returns a channel closed when the most recently started loop has
// returned. It is already closed if no loop was ever started.
func (r *Retriever) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// Stats returns a snapshot of the loop counters.
func (r *Retriever) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// ContinueToRetrieve reports whether token is still the active context.
func (r *Retriever) ContinueToRetrieve(token Token) bool {
	return r.registry.IsActive(token)
}

// SetActiveContext makes token the active context for every retriever
// sharing this registry.
func (r *Retriever) SetActiveContext(token Token) {
	r.registry.Set(token)
}

func (r *Retriever) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}, rr RetrievingRoutine) {
	defer close(done)
	defer r.finish(gen)

	// a suspended loop may still be inside its routine
	select {
	case <-prev:
	case <-ctx.Done():
		return
	}

	if !rr.Repeat {
		r.invoke(ctx, rr.Routine)
		return
	}

	timer := time.NewTimer(rr.Delay)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if !r.ContinueToRetrieve(rr.Context) {
			r.logger.Debug("Context no longer active, loop exiting",
				zap.String("context", rr.Context.String()))
			return
		}

		r.invoke(ctx, rr.Routine)

		timer.Reset(rr.Delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (r *Retriever) invoke(ctx context.Context, routine Routine) {
	err := routine(ctx)
	lastRun := time.Now()

	r.mu.Lock()
	r.stats.Iterations++
	r.stats.LastRun = &lastRun
	if err != nil && ctx.Err() == nil {
		r.stats.Failures++
		r.stats.LastError = err.Error()
	} else if err == nil {
		r.stats.LastError = ""
	}
	r.mu.Unlock()

	switch {
	case err == nil:
	case ctx.Err() != nil:
		r.logger.Debug("Routine cancelled", zap.Error(err))
	default:
		r.logger.Warn("Routine failed", zap.Error(err))
	}
}

// finish returns the retriever to idle unless a newer loop has taken over.
func (r *Retriever) finish(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.generation != gen || !r.running {
		return
	}
	r.running = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Check reports the retriever state as a health result.
func (r *Retriever) Check(ctx context.Context) *healthcheck.Result {
	stats := r.Stats()
	last, recorded := r.Last()
	state := r.State()

	status := healthcheck.StatusHealthy
	message := "Retriever is idle"
	switch {
	case state == StateRunning && stats.LastError != "":
		status = healthcheck.StatusDegraded
		message = "Last iteration failed: " + stats.LastError
	case state == StateRunning:
		message = "Retriever is running"
	case recorded && !last.Repeat && stats.Iterations > 0:
		message = "Retriever finished"
	case recorded:
		status = healthcheck.StatusDegraded
		message = "Retriever is suspended"
	}

	return &healthcheck.Result{
		ComponentName: r.name,
		Status:        status,
		Message:       message,
		Timestamp:     time.Now(),
		Details: map[string]interface{}{
			"state":      string(state),
			"iterations": stats.Iterations,
			"failures":   stats.Failures,
		},
	}
}

var _ healthcheck.Checker = (*Retriever)(nil)
