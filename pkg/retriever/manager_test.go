package retriever

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManagerRetrieverIsMemoized(t *testing.T) {
	m := NewManager(context.Background(), nil, zap.NewNop())
	defer m.Close()

	a := m.Retriever("orders")
	b := m.Retriever("orders")
	assert.Same(t, a, b)
	assert.Same(t, m.Registry(), a.Registry())
	assert.Equal(t, "orders", a.Name())
}

func TestManagerLookup(t *testing.T) {
	m := NewManager(context.Background(), NewRegistry(), nil)
	defer m.Close()

	_, err := m.Lookup("missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	assert.Error(t, m.Suspend("missing"))
	_, err = m.Restart("missing")
	assert.Error(t, err)
}

func TestManagerSuspendAndRestartAll(t *testing.T) {
	m := NewManager(context.Background(), nil, zap.NewNop())
	defer m.Close()

	token := NewToken()
	m.SetActiveContext(token)

	var profile, feed atomic.Int32
	require.True(t, m.Retrieve("profile", token, func(ctx context.Context) error {
		profile.Add(1)
		return nil
	}, Every(5*time.Millisecond)))
	require.True(t, m.Retrieve("feed", token, func(ctx context.Context) error {
		feed.Add(1)
		return nil
	}, Every(5*time.Millisecond)))

	assert.Equal(t, []string{"feed", "profile"}, m.Names())
	assert.Len(t, m.Checkers(), 2)

	m.SuspendAll()
	for _, name := range m.Names() {
		r, err := m.Lookup(name)
		require.NoError(t, err)
		assert.True(t, r.CanStart(), name)
	}

	m.RestartAll()
	for _, name := range m.Names() {
		r, err := m.Lookup(name)
		require.NoError(t, err)
		assert.False(t, r.CanStart(), name)
	}

	require.NoError(t, m.Suspend("feed"))
	started, err := m.Restart("feed")
	require.NoError(t, err)
	assert.True(t, started)

	require.Eventually(t, func() bool {
		return profile.Load() > 1 && feed.Load() > 1
	}, time.Second, time.Millisecond)
}

func TestManagerCloseStopsEverything(t *testing.T) {
	m := NewManager(context.Background(), nil, nil)
	token := NewToken()
	m.SetActiveContext(token)

	require.True(t, m.Retrieve("poll", token, func(ctx context.Context) error { return nil }, Every(time.Millisecond)))
	r := m.Retriever("poll")

	m.Close()
	waitDone(t, r.Done(), time.Second)
	assert.True(t, r.CanStart())

	assert.False(t, m.Retrieve("poll", token, func(ctx context.Context) error { return nil }))
	assert.False(t, m.Retrieve("late", token, func(ctx context.Context) error { return nil }))
}
