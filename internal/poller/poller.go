// Package poller wires configured endpoints to retrievers, drives them
// through a lifecycle machine and publishes what they fetch.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/unklstewy/equinox/internal/config"
	"github.com/unklstewy/equinox/pkg/healthcheck"
	"github.com/unklstewy/equinox/pkg/lifecycle"
	"github.com/unklstewy/equinox/pkg/mqtt"
	"github.com/unklstewy/equinox/pkg/requester"
	"github.com/unklstewy/equinox/pkg/retriever"
	"github.com/unklstewy/equinox/pkg/session"
	"go.uber.org/zap"
)

// HealthRetriever is the reserved retriever name of the health reporter.
const HealthRetriever = "health-report"

// ErrNotResumed is returned by Activate while the machine is not resumed.
var ErrNotResumed = errors.New("poller is not resumed")

// Poller owns one retriever per endpoint plus the health reporter.
type Poller struct {
	config     *config.Config
	logger     *zap.Logger
	store      session.Store
	session    *session.Session
	closeStore func()
	requester  *requester.Requester
	manager    *retriever.Manager
	machine    *lifecycle.Machine
	health     *healthcheck.Engine
	publisher  mqtt.Publisher

	httpClient *http.Client
	startTime  time.Time

	mu            sync.RWMutex
	results       map[string]*requester.Envelope
	shutdownFuncs []func(context.Context) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublisher publishes results and health reports through pub.
func WithPublisher(pub mqtt.Publisher) Option {
	return func(p *Poller) {
		p.publisher = pub
	}
}

// WithStore uses store instead of opening the configured one.
func WithStore(store session.Store) Option {
	return func(p *Poller) {
		p.store = store
	}
}

// WithHTTPClient overrides the client used by the requester.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Poller) {
		p.httpClient = client
	}
}

// New builds a poller in the Created state. ctx bounds every retriever.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Poller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	p := &Poller{
		config:  cfg,
		logger:  zap.NewNop(),
		results: make(map[string]*requester.Envelope),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "poller"), zap.String("name", cfg.Name))

	for _, ep := range cfg.Endpoints {
		if ep.Name == HealthRetriever {
			return nil, fmt.Errorf("endpoint name %s is reserved", HealthRetriever)
		}
	}

	if p.store == nil {
		store, closeStore, err := OpenStore(ctx, cfg.Session)
		if err != nil {
			return nil, err
		}
		p.store = store
		p.closeStore = closeStore
	}

	sess, err := session.Load(ctx, p.store)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	p.session = sess

	reqOpts := []requester.Option{
		requester.WithLogger(p.logger),
		requester.WithCredentials(sess),
	}
	if p.httpClient != nil {
		reqOpts = append(reqOpts, requester.WithHTTPClient(p.httpClient))
	}
	p.requester = requester.New(cfg.Requester, reqOpts...)

	p.manager = retriever.NewManager(ctx, nil, p.logger)
	p.machine = lifecycle.NewMachine(cfg.Name, p.logger)
	p.machine.AttachFuncs(p.manager.SuspendAll, p.manager.RestartAll)
	p.machine.OnEnter(lifecycle.Destroyed, p.manager.Close)
	p.machine.OnTransition(func(from, to lifecycle.State) {
		p.logger.Info("Poller state changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})

	p.health = healthcheck.NewEngine(p.logger)
	p.health.Register(healthcheck.CheckerFunc(cfg.Name, p.HealthCheck))
	p.health.Register(healthcheck.CheckerFunc("session", p.sessionCheck))
	for _, ep := range cfg.Endpoints {
		p.health.Register(p.manager.Retriever(ep.Name))
	}

	if err := p.machine.Create(); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// Manager returns the retriever manager.
func (p *Poller) Manager() *retriever.Manager {
	return p.manager
}

// Machine returns the lifecycle machine.
func (p *Poller) Machine() *lifecycle.Machine {
	return p.machine
}

// Session returns the session whose credentials the requester sends.
func (p *Poller) Session() *session.Session {
	return p.session
}

// Requester returns the requester shared by every endpoint.
func (p *Poller) Requester() *requester.Requester {
	return p.requester
}

// CheckHealth runs every registered checker.
func (p *Poller) CheckHealth(ctx context.Context) *healthcheck.AggregatedResult {
	return p.health.CheckAll(ctx)
}

// RegisterShutdownFunc adds a function run during Shutdown, in reverse
// registration order.
func (p *Poller) RegisterShutdownFunc(fn func(context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownFuncs = append(p.shutdownFuncs, fn)
}

// Start activates a fresh context, schedules every endpoint and resumes.
func (p *Poller) Start() error {
	if err := p.machine.Start(); err != nil {
		return err
	}
	p.startTime = time.Now()

	token := retriever.NewToken()
	p.SetActiveContext(token)
	p.schedule(token)

	if err := p.machine.Resume(); err != nil {
		return err
	}
	p.logger.Info("Poller started",
		zap.Int("endpoints", len(p.config.Endpoints)),
		zap.String("context", token.String()))
	return nil
}

// Pause suspends every retriever.
func (p *Poller) Pause() error {
	return p.machine.Pause()
}

// Resume restarts every retriever with its recorded routine.
func (p *Poller) Resume() error {
	return p.machine.Resume()
}

// SetActiveContext switches the shared context. Loops started under another
// token exit at their next check.
func (p *Poller) SetActiveContext(token retriever.Token) {
	p.manager.SetActiveContext(token)
	p.publish(mqtt.ActiveContextTopic(), true, mqtt.MessageTypeContext, map[string]string{"token": token.String()})
}

// ActiveContext returns the current context token.
func (p *Poller) ActiveContext() (retriever.Token, bool) {
	return p.manager.Registry().Current()
}

// Activate switches to token and reschedules every endpoint under it.
func (p *Poller) Activate(token retriever.Token) error {
	if state := p.machine.State(); state != lifecycle.Resumed {
		return fmt.Errorf("%w: state is %s", ErrNotResumed, state)
	}
	p.SetActiveContext(token)
	p.manager.SuspendAll()
	p.schedule(token)
	return nil
}

// Result returns the last envelope fetched for the named endpoint.
func (p *Poller) Result(name string) (*requester.Envelope, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	env, ok := p.results[name]
	return env, ok
}

// Shutdown pauses, stops and destroys the machine, saves the session and
// runs the registered shutdown functions.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.logger.Info("Stopping poller")

	if p.machine.State() == lifecycle.Resumed {
		if err := p.machine.Pause(); err != nil {
			p.logger.Warn("Failed to pause", zap.Error(err))
		}
	}
	if p.machine.State() == lifecycle.Paused {
		if err := p.machine.Stop(); err != nil {
			p.logger.Warn("Failed to stop", zap.Error(err))
		}
	}
	var firstErr error
	if p.machine.State() != lifecycle.Destroyed {
		if err := p.machine.Destroy(); err != nil {
			firstErr = err
		}
	}

	if err := p.session.Save(ctx, p.store); err != nil {
		p.logger.Error("Failed to save session", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	p.mu.RLock()
	funcs := append([]func(context.Context) error{}, p.shutdownFuncs...)
	p.mu.RUnlock()
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			p.logger.Error("Shutdown function failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	p.close()
	p.logger.Info("Poller stopped")
	return firstErr
}

// HealthCheck reports the poller itself: unhealthy unless resumed,
// degraded while the publisher is disconnected.
func (p *Poller) HealthCheck(ctx context.Context) *healthcheck.Result {
	state := p.machine.State()
	status := healthcheck.StatusHealthy
	message := "Poller is running"

	if state != lifecycle.Resumed {
		status = healthcheck.StatusUnhealthy
		message = fmt.Sprintf("Poller is %s", state)
	} else if p.publisher != nil && !p.publisher.IsConnected() {
		status = healthcheck.StatusDegraded
		message = "MQTT client not connected"
	}

	var uptime float64
	if !p.startTime.IsZero() {
		uptime = time.Since(p.startTime).Seconds()
	}
	return &healthcheck.Result{
		ComponentName: p.config.Name,
		Status:        status,
		Message:       message,
		Timestamp:     time.Now(),
		Details: map[string]interface{}{
			"state":          string(state),
			"uptime_seconds": uptime,
			"endpoints":      len(p.config.Endpoints),
			"mqtt_connected": p.publisher != nil && p.publisher.IsConnected(),
		},
	}
}

func (p *Poller) schedule(token retriever.Token) {
	for _, ep := range p.config.Endpoints {
		req := requester.Request{
			Method:  ep.Method,
			Path:    ep.Path,
			Headers: ep.Headers,
		}
		opts := []retriever.RunOption{retriever.Every(ep.Interval)}
		if ep.Once {
			opts = []retriever.RunOption{retriever.Once()}
		}
		p.manager.Retrieve(ep.Name, token, p.requester.Routine(req, p.callbacks(ep.Name)), opts...)
	}

	if p.publisher != nil {
		p.manager.Retrieve(HealthRetriever, token, p.reportHealth, retriever.Every(p.config.HealthInterval))
	}
}

func (p *Poller) callbacks(name string) requester.Callbacks {
	logger := p.logger.With(zap.String("endpoint", name))
	return requester.Callbacks{
		OnSuccess: func(env *requester.Envelope) {
			logger.Debug("Endpoint fetched", zap.Int("code", env.Code))
			p.record(name, env)
		},
		OnFailure: func(env *requester.Envelope) {
			logger.Warn("Endpoint returned an unsuccessful envelope",
				zap.String("status", string(env.Status)),
				zap.Int("code", env.Code),
				zap.String("message", env.Message))
			p.record(name, env)
		},
		OnConnectionError: func(env *requester.Envelope) {
			logger.Warn("Endpoint unreachable", zap.String("message", env.Message))
			p.record(name, env)
		},
	}
}

func (p *Poller) record(name string, env *requester.Envelope) {
	p.mu.Lock()
	p.results[name] = env
	p.mu.Unlock()

	p.publish(mqtt.ResultTopic(name), false, mqtt.MessageTypeResult, env)
}

func (p *Poller) reportHealth(ctx context.Context) error {
	result := p.health.CheckAll(ctx)
	p.publish(mqtt.HealthTopic(p.config.Name), false, mqtt.MessageTypeHealth, result)
	return nil
}

func (p *Poller) publish(topic string, retained bool, msgType mqtt.MessageType, payload interface{}) {
	if p.publisher == nil {
		return
	}

	msg, err := mqtt.NewMessage(msgType, "poller:"+p.config.Name, payload)
	if err != nil {
		p.logger.Error("Failed to create message", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := p.publisher.PublishJSON(topic, retained, msg); err != nil {
		p.logger.Debug("Failed to publish message", zap.String("topic", topic), zap.Error(err))
	}
}
