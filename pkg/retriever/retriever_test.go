package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unklstewy/equinox/pkg/healthcheck"
	"go.uber.org/zap"
)

// waitDone fails the test if ch is not closed within timeout.
func waitDone(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for loop to finish")
	}
}

func newActive(t *testing.T) (*Retriever, Token) {
	t.Helper()
	registry := NewRegistry()
	token := NewToken()
	registry.Set(token)
	r := New(context.Background(), registry, WithName("test"), WithLogger(zap.NewNop()))
	t.Cleanup(r.Close)
	return r, token
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	a, b := Token("A"), Token("B")

	t.Run("nothing active before set", func(t *testing.T) {
		assert.False(t, registry.IsActive(a))
		assert.False(t, registry.IsActive(""))
		_, ok := registry.Current()
		assert.False(t, ok)
	})

	t.Run("last write wins", func(t *testing.T) {
		registry.Set(a)
		assert.True(t, registry.IsActive(a))
		assert.False(t, registry.IsActive(b))

		registry.Set(b)
		assert.False(t, registry.IsActive(a))
		assert.True(t, registry.IsActive(b))

		current, ok := registry.Current()
		assert.True(t, ok)
		assert.Equal(t, b, current)
	})

	t.Run("clear deactivates everything", func(t *testing.T) {
		registry.Clear()
		assert.False(t, registry.IsActive(b))
	})
}

func TestNewToken(t *testing.T) {
	assert.NotEqual(t, NewToken(), NewToken())
	assert.NotEmpty(t, NewToken().String())
}

func TestNewDefaults(t *testing.T) {
	r := New(nil, nil)
	assert.Equal(t, "retriever", r.Name())
	assert.NotNil(t, r.Registry())
	assert.True(t, r.CanStart())
	assert.Equal(t, StateIdle, r.State())

	// Done is closed before any loop ran.
	waitDone(t, r.Done(), 10*time.Millisecond)
}

func TestExecuteAtMostOneLoop(t *testing.T) {
	r, token := newActive(t)

	routine := func(ctx context.Context) error { return nil }

	require.True(t, r.Execute(token, routine, true, 20*time.Millisecond))
	assert.False(t, r.CanStart())
	assert.Equal(t, StateRunning, r.State())

	assert.False(t, r.Execute(token, routine, true, 20*time.Millisecond), "execute while running must be a no-op")
	assert.False(t, r.Execute(token, routine, false, 0))

	r.Suspend()
	assert.True(t, r.CanStart(), "suspend must return to idle immediately")
	assert.Equal(t, StateIdle, r.State())
}

func TestExecuteRejectsNilRoutine(t *testing.T) {
	r, token := newActive(t)
	assert.False(t, r.Execute(token, nil, true, time.Millisecond))
	assert.True(t, r.CanStart())
	_, ok := r.Last()
	assert.False(t, ok)
}

func TestRestart(t *testing.T) {
	t.Run("no-op without prior execute", func(t *testing.T) {
		r, _ := newActive(t)
		assert.False(t, r.Restart())
		assert.True(t, r.CanStart())
	})

	t.Run("reproduces repeat and delay", func(t *testing.T) {
		r, token := newActive(t)
		routine := func(ctx context.Context) error { return nil }

		require.True(t, r.Execute(token, routine, true, 50*time.Millisecond))
		r.Suspend()

		require.True(t, r.Restart())
		assert.False(t, r.CanStart())

		last, ok := r.Last()
		require.True(t, ok)
		assert.Equal(t, token, last.Context)
		assert.True(t, last.Repeat)
		assert.Equal(t, 50*time.Millisecond, last.Delay)
	})

	t.Run("no-op after close", func(t *testing.T) {
		r, token := newActive(t)
		require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, true, time.Millisecond))
		r.Close()
		assert.False(t, r.Restart())
	})
}

func TestExecuteDefaultsDelay(t *testing.T) {
	r, token := newActive(t)
	require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, true, 0))
	last, _ := r.Last()
	assert.Equal(t, DefaultDelay, last.Delay)
}

func TestOneShotRunsOnce(t *testing.T) {
	// One-shot runs regardless of the active context.
	r := New(context.Background(), NewRegistry())
	var calls atomic.Int32

	require.True(t, r.Execute("unset", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, false, 10*time.Millisecond))

	waitDone(t, r.Done(), time.Second)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.CanStart())
	assert.Equal(t, uint64(1), r.Stats().Iterations)
}

func TestSuspendCancelsInFlightRoutine(t *testing.T) {
	r, token := newActive(t)
	started := make(chan struct{})
	aborted := make(chan error, 1)

	require.True(t, r.Execute(token, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		aborted <- ctx.Err()
		return ctx.Err()
	}, true, time.Hour))

	<-started
	r.Suspend()
	assert.True(t, r.CanStart())

	select {
	case err := <-aborted:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("in-flight routine was not cancelled")
	}
	waitDone(t, r.Done(), time.Second)
	assert.Zero(t, r.Stats().Failures, "cancellation is not a failure")
}

func TestLoopStopsWhenContextChanges(t *testing.T) {
	registry := NewRegistry()
	a, b := Token("A"), Token("B")
	registry.Set(a)
	r := New(context.Background(), registry)
	t.Cleanup(r.Close)

	var calls atomic.Int32
	first := make(chan struct{}, 1)

	require.True(t, r.Retrieve(a, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			first <- struct{}{}
		}
		return nil
	}, Every(100*time.Millisecond)))

	<-first
	r.SetActiveContext(b)

	// The loop must exit at its next check, within one delay interval.
	waitDone(t, r.Done(), 250*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.CanStart())
	assert.False(t, r.ContinueToRetrieve(a))
	assert.True(t, r.ContinueToRetrieve(b))
}

func TestLoopDoesNotStartForInactiveContext(t *testing.T) {
	r, _ := newActive(t)
	var calls atomic.Int32

	require.True(t, r.Execute("other", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, true, time.Millisecond))

	waitDone(t, r.Done(), time.Second)
	assert.Zero(t, calls.Load())
	assert.True(t, r.CanStart())
}

func TestIterationsDoNotOverlap(t *testing.T) {
	r, token := newActive(t)
	var inflight, overlaps, calls atomic.Int32

	require.True(t, r.Execute(token, func(ctx context.Context) error {
		if inflight.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer inflight.Add(-1)
		calls.Add(1)
		time.Sleep(2 * time.Millisecond)
		return nil
	}, true, time.Millisecond))

	require.Eventually(t, func() bool { return calls.Load() >= 5 }, time.Second, time.Millisecond)
	r.Suspend()
	waitDone(t, r.Done(), time.Second)

	assert.Zero(t, overlaps.Load())
}

func TestRestartWaitsForSuspendedIteration(t *testing.T) {
	r, token := newActive(t)
	var inflight, peak, calls atomic.Int32

	// The routine ignores ctx for a while, so a suspended iteration
	// keeps running after Suspend returns.
	require.True(t, r.Execute(token, func(ctx context.Context) error {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return nil
	}, true, time.Millisecond))
	require.Eventually(t, func() bool { return inflight.Load() == 1 }, time.Second, time.Millisecond)

	r.Suspend()
	assert.Equal(t, StateIdle, r.State())
	require.True(t, r.Restart())

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	r.Suspend()
	waitDone(t, r.Done(), time.Second)

	assert.Equal(t, int32(1), peak.Load())
}

func TestSuspendWhileWaitingForPreviousLoop(t *testing.T) {
	r, token := newActive(t)
	release := make(chan struct{})
	var calls atomic.Int32

	require.True(t, r.Execute(token, func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}, true, time.Hour))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	first := r.Done()

	r.Suspend()
	require.True(t, r.Restart())
	second := r.Done()
	r.Suspend()

	waitDone(t, second, time.Second)
	close(release)
	waitDone(t, first, time.Second)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.CanStart())
}

func TestStatsTimesOmittedBeforeStart(t *testing.T) {
	r, token := newActive(t)

	raw, err := json.Marshal(r.Stats())
	require.NoError(t, err)
	assert.JSONEq(t, `{"iterations":0,"failures":0}`, string(raw))

	require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, false, 0))
	waitDone(t, r.Done(), time.Second)

	stats := r.Stats()
	require.NotNil(t, stats.StartedAt)
	require.NotNil(t, stats.LastRun)
	assert.False(t, stats.LastRun.Before(*stats.StartedAt))
}

func TestStaleLoopDoesNotClearNewerLoop(t *testing.T) {
	r, token := newActive(t)
	started := make(chan struct{})

	// The first routine takes a while to notice cancellation.
	require.True(t, r.Execute(token, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(30 * time.Millisecond)
		return ctx.Err()
	}, true, time.Hour))
	<-started
	stale := r.Done()

	r.Suspend()
	require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, true, 10*time.Millisecond))

	waitDone(t, stale, time.Second)
	assert.False(t, r.CanStart(), "stale loop must not reset the running flag")
}

func TestScopeCancelStopsLoop(t *testing.T) {
	scope, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()
	token := NewToken()
	registry.Set(token)
	r := New(scope, registry)

	require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, true, 5*time.Millisecond))
	cancel()

	waitDone(t, r.Done(), time.Second)
	assert.True(t, r.CanStart())
	assert.False(t, r.Execute(token, func(ctx context.Context) error { return nil }, true, 5*time.Millisecond))
	assert.False(t, r.Restart())
}

func TestRoutineErrorsKeepLooping(t *testing.T) {
	r, token := newActive(t)
	boom := errors.New("connection refused")

	require.True(t, r.Execute(token, func(ctx context.Context) error { return boom }, true, time.Millisecond))

	require.Eventually(t, func() bool { return r.Stats().Failures >= 3 }, time.Second, time.Millisecond)
	assert.False(t, r.CanStart())

	stats := r.Stats()
	assert.Equal(t, "connection refused", stats.LastError)
	assert.GreaterOrEqual(t, stats.Iterations, stats.Failures)

	result := r.Check(context.Background())
	assert.Equal(t, healthcheck.StatusDegraded, result.Status)
	assert.Equal(t, "test", result.ComponentName)
}

func TestCheck(t *testing.T) {
	r, token := newActive(t)

	assert.Equal(t, healthcheck.StatusHealthy, r.Check(context.Background()).Status)

	require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, true, time.Hour))
	result := r.Check(context.Background())
	assert.Equal(t, healthcheck.StatusHealthy, result.Status)
	assert.Equal(t, "running", result.Details["state"])

	r.Suspend()
	result = r.Check(context.Background())
	assert.Equal(t, healthcheck.StatusDegraded, result.Status)
	assert.Equal(t, "Retriever is suspended", result.Message)
}

func TestCheckFinishedOneShot(t *testing.T) {
	r, token := newActive(t)

	require.True(t, r.Execute(token, func(ctx context.Context) error { return nil }, false, 0))
	<-r.Done()

	result := r.Check(context.Background())
	assert.Equal(t, healthcheck.StatusHealthy, result.Status)
	assert.Equal(t, "Retriever finished", result.Message)
}
