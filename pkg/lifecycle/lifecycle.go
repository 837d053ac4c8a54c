// Package lifecycle models an owner's lifecycle as an explicit state
// machine. Components attach to it to be suspended when the owner goes to
// the background and restarted when it comes back.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is a lifecycle state.
type State string

// Lifecycle states, in the order an owner normally passes through them.
const (
	Initialized State = "initialized"
	Created     State = "created"
	Started     State = "started"
	Resumed     State = "resumed"
	Paused      State = "paused"
	Stopped     State = "stopped"
	Destroyed   State = "destroyed"
)

// ErrInvalidTransition is returned when an event is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var transitions = map[State][]State{
	Initialized: {Created, Destroyed},
	Created:     {Started, Destroyed},
	Started:     {Resumed, Stopped, Destroyed},
	Resumed:     {Paused, Destroyed},
	Paused:      {Resumed, Stopped, Destroyed},
	Stopped:     {Started, Destroyed},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Suspender is implemented by components that pause background work.
type Suspender interface {
	Suspend()
	Restart() bool
}

// closer is optionally implemented by attached components released on destroy.
type closer interface {
	Close()
}

// Machine tracks the lifecycle of one owner. Callbacks run synchronously on
// the goroutine that triggered the transition, in registration order.
type Machine struct {
	name   string
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	onEnter      map[State][]func()
	onTransition []func(from, to State)
}

// NewMachine creates a machine in the Initialized state.
func NewMachine(name string, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		name:    name,
		logger:  logger.With(zap.String("lifecycle", name)),
		state:   Initialized,
		onEnter: make(map[State][]func()),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnEnter registers fn to run every time the machine enters state.
func (m *Machine) OnEnter(state State, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[state] = append(m.onEnter[state], fn)
}

// OnTransition registers fn to run after every transition.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = append(m.onTransition, fn)
}

// Attach wires s to the machine: resuming restarts it, pausing, stopping
// and destroying suspend it. On destroy s is also closed when it has a
// Close method.
func (m *Machine) Attach(s Suspender) {
	m.OnEnter(Resumed, func() { s.Restart() })
	m.OnEnter(Paused, s.Suspend)
	m.OnEnter(Stopped, s.Suspend)
	m.OnEnter(Destroyed, func() {
		s.Suspend()
		if c, ok := s.(closer); ok {
			c.Close()
		}
	})
}

// AttachFuncs wires plain functions the same way Attach does.
func (m *Machine) AttachFuncs(suspend, restart func()) {
	m.Attach(funcs{suspend: suspend, restart: restart})
}

type funcs struct {
	suspend, restart func()
}

func (f funcs) Suspend() {
	if f.suspend != nil {
		f.suspend()
	}
}

// Restart reports whether a restart func was attached; it cannot tell
// whether that func started anything.
func (f funcs) Restart() bool {
	if f.restart == nil {
		return false
	}
	f.restart()
	return true
}

// Create moves to Created.
func (m *Machine) Create() error { return m.transition(Created) }

// Start moves to Started.
func (m *Machine) Start() error { return m.transition(Started) }

// Resume moves to Resumed.
func (m *Machine) Resume() error { return m.transition(Resumed) }

// Pause moves to Paused.
func (m *Machine) Pause() error { return m.transition(Paused) }

// Stop moves to Stopped.
func (m *Machine) Stop() error { return m.transition(Stopped) }

// Destroy moves to Destroyed. It is terminal.
func (m *Machine) Destroy() error { return m.transition(Destroyed) }

// Fire applies the transition named by event ("create", "start", "resume",
// "pause", "stop", "destroy").
func (m *Machine) Fire(event string) error {
	to, ok := events[event]
	if !ok {
		return fmt.Errorf("unknown lifecycle event %q", event)
	}
	return m.transition(to)
}

var events = map[string]State{
	"create":  Created,
	"start":   Started,
	"resume":  Resumed,
	"pause":   Paused,
	"stop":    Stopped,
	"destroy": Destroyed,
}

func (m *Machine) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	enter := append([]func(){}, m.onEnter[to]...)
	observers := append([]func(from, to State){}, m.onTransition...)
	m.mu.Unlock()

	m.logger.Debug("Lifecycle transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	for _, fn := range enter {
		fn()
	}
	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}
