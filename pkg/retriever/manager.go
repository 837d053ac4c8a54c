package retriever

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/unklstewy/equinox/pkg/healthcheck"
	"go.uber.org/zap"
)

// Manager owns a set of named retrievers sharing one registry and one
// owner scope.
type Manager struct {
	scope    context.Context
	cancel   context.CancelFunc
	registry *Registry
	logger   *zap.Logger

	mu         sync.RWMutex
	retrievers map[string]*Retriever
}

// NewManager creates a manager. Closing the manager cancels a scope derived
// from parent, which stops every loop it owns.
func NewManager(parent context.Context, registry *Registry, logger *zap.Logger) *Manager {
	if parent == nil {
		parent = context.Background()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scope, cancel := context.WithCancel(parent)
	return &Manager{
		scope:      scope,
		cancel:     cancel,
		registry:   registry,
		logger:     logger.With(zap.String("component", "retriever_manager")),
		retrievers: make(map[string]*Retriever),
	}
}

// Registry returns the shared registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetActiveContext makes token the active context for every retriever.
func (m *Manager) SetActiveContext(token Token) {
	m.registry.Set(token)
	m.logger.Debug("Active context changed", zap.String("context", token.String()))
}

// Retriever returns the retriever registered under name, creating it on
// first use.
func (m *Manager) Retriever(name string) *Retriever {
	m.mu.RLock()
	r, ok := m.retrievers[name]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.retrievers[name]; ok {
		return r
	}
	r = New(m.scope, m.registry, WithName(name), WithLogger(m.logger))
	m.retrievers[name] = r
	return r
}

// Lookup returns the retriever registered under name, if any.
func (m *Manager) Lookup(name string) (*Retriever, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.retrievers[name]
	if !ok {
		return nil, fmt.Errorf("retriever %s not registered", name)
	}
	return r, nil
}

// Retrieve starts routine on the named retriever.
func (m *Manager) Retrieve(name string, token Token, routine Routine, opts ...RunOption) bool {
	return m.Retriever(name).Retrieve(token, routine, opts...)
}

// Suspend suspends the named retriever.
func (m *Manager) Suspend(name string) error {
	r, err := m.Lookup(name)
	if err != nil {
		return err
	}
	r.Suspend()
	return nil
}

// Restart restarts the named retriever and reports whether a loop started.
func (m *Manager) Restart(name string) (bool, error) {
	r, err := m.Lookup(name)
	if err != nil {
		return false, err
	}
	return r.Restart(), nil
}

// SuspendAll suspends every retriever.
func (m *Manager) SuspendAll() {
	for _, r := range m.snapshot() {
		r.Suspend()
	}
}

// RestartAll restarts every retriever that has a recorded routine.
func (m *Manager) RestartAll() {
	for _, r := range m.snapshot() {
		r.Restart()
	}
}

// Names returns the registered names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.retrievers))
	for name := range m.retrievers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checkers returns every retriever as a health checker.
func (m *Manager) Checkers() []healthcheck.Checker {
	retrievers := m.snapshot()
	checkers := make([]healthcheck.Checker, 0, len(retrievers))
	for _, r := range retrievers {
		checkers = append(checkers, r)
	}
	return checkers
}

// Close closes every retriever and cancels the manager scope.
func (m *Manager) Close() {
	for _, r := range m.snapshot() {
		r.Close()
	}
	m.cancel()
	m.logger.Debug("Retriever manager closed")
}

func (m *Manager) snapshot() []*Retriever {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Retriever, 0, len(m.retrievers))
	for _, name := range sortedKeys(m.retrievers) {
		out = append(out, m.retrievers[name])
	}
	return out
}

func sortedKeys(in map[string]*Retriever) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
