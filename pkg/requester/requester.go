package requester

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

var (
	// ErrConnection is returned by Routine when the server could not be reached.
	ErrConnection = errors.New("connection error")
	// ErrUnsuccessful is returned by Routine when the server reported a failure.
	ErrUnsuccessful = errors.New("request unsuccessful")
)

// Config holds requester settings.
type Config struct {
	// Host is the base URL, e.g. "https://api.example.com"
	Host string `mapstructure:"host"`
	// Timeout bounds every request
	Timeout time.Duration `mapstructure:"timeout"`
	// InsecureSkipVerify disables TLS certificate validation
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// Headers are sent with every request
	Headers map[string]string `mapstructure:"headers"`
	// GenericMessage is the user-facing message of transport failures
	GenericMessage string `mapstructure:"generic_message"`
	// Debug logs every request and response
	Debug bool `mapstructure:"debug"`
}

// Credentials supplies the host and bearer token of a signed-in user.
type Credentials interface {
	BaseURL() string
	BearerToken() string
}

// Request describes one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	// Body is sent as-is when it is []byte or string, JSON-encoded otherwise.
	Body interface{}

	contentType string
}

// Requester issues requests and decodes envelopes.
type Requester struct {
	config      Config
	httpClient  *http.Client
	credentials Credentials
	logger      *zap.Logger
	group       singleflight.Group
}

// Option configures a Requester.
type Option func(*Requester)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Requester) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCredentials attaches the signed-in user's host and token.
func WithCredentials(creds Credentials) Option {
	return func(r *Requester) {
		r.credentials = creds
	}
}

// WithHTTPClient replaces the underlying client. Timeout and TLS settings
// from Config are not applied to it.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Requester) {
		r.httpClient = client
	}
}

// New creates a requester.
func New(config Config, opts ...Option) *Requester {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.GenericMessage == "" {
		config.GenericMessage = DefaultGenericMessage
	}

	r := &Requester{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "requester"))

	if r.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if config.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
		}
		r.httpClient = &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		}
	}

	return r
}

// Config returns the effective configuration.
func (r *Requester) Config() Config {
	return r.config
}

// Get issues a GET request.
func (r *Requester) Get(ctx context.Context, path string) *Envelope {
	return r.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request with a JSON body.
func (r *Requester) Post(ctx context.Context, path string, body interface{}) *Envelope {
	return r.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body.
func (r *Requester) Put(ctx context.Context, path string, body interface{}) *Envelope {
	return r.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH request with a JSON body.
func (r *Requester) Patch(ctx context.Context, path string, body interface{}) *Envelope {
	return r.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (r *Requester) Delete(ctx context.Context, path string) *Envelope {
	return r.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Do issues req and returns its envelope. Identical concurrent GET requests
// share one round trip; the envelope returned to each caller is a copy.
// Cancelling one caller's ctx never fails the round trip for the others.
func (r *Requester) Do(ctx context.Context, req Request) *Envelope {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if req.Method != http.MethodGet || req.Body != nil {
		return r.do(ctx, req)
	}

	if ctx.Err() != nil {
		return GenericResponse(r.config.GenericMessage)
	}

	// The shared round trip outlives any single caller; each caller only
	// stops waiting on its own cancellation.
	ch := r.group.DoChan(r.dedupeKey(req), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Timeout)
		defer cancel()
		return r.do(shared, req), nil
	})

	select {
	case res := <-ch:
		if res.Shared && r.config.Debug {
			r.logger.Debug("Shared in-flight request", zap.String("path", req.Path))
		}
		env := *res.Val.(*Envelope)
		return &env
	case <-ctx.Done():
		r.logger.Debug("Caller stopped waiting for shared request",
			zap.String("path", req.Path),
			zap.Error(ctx.Err()))
		return GenericResponse(r.config.GenericMessage)
	}
}

// Call issues req and dispatches the envelope to cb.
func (r *Requester) Call(ctx context.Context, req Request, cb Callbacks) Outcome {
	return Dispatch(r.Do(ctx, req), cb)
}

// Routine adapts a call into a function a retriever can poll. The callbacks
// fire on every completed iteration; an iteration aborted through ctx fires
// none. The returned error only feeds loop statistics.
func (r *Requester) Routine(req Request, cb Callbacks) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		env := r.Do(ctx, req)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		Dispatch(env, cb)
		switch Classify(env) {
		case OutcomeSuccess:
			return nil
		case OutcomeConnectionError:
			return fmt.Errorf("%w: %s", ErrConnection, env.Message)
		default:
			return fmt.Errorf("%w: status %q", ErrUnsuccessful, env.Status)
		}
	}
}

func (r *Requester) do(ctx context.Context, req Request) *Envelope {
	start := time.Now()

	httpReq, err := r.newRequest(ctx, req)
	if err != nil {
		r.logger.Error("Failed to build request",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err))
		return GenericResponse(r.config.GenericMessage)
	}

	if r.config.Debug {
		r.logger.Debug("Sending request",
			zap.String("method", httpReq.Method),
			zap.String("url", httpReq.URL.String()))
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil && ctx.Err() != nil {
		r.logger.Debug("Request cancelled",
			zap.String("method", httpReq.Method),
			zap.String("url", httpReq.URL.String()))
		return GenericResponse(r.config.GenericMessage)
	}
	if err != nil {
		r.logger.Warn("Request failed",
			zap.String("method", httpReq.Method),
			zap.String("url", httpReq.URL.String()),
			zap.Error(err))
		return GenericResponse(r.config.GenericMessage)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn("Failed to read response",
			zap.String("url", httpReq.URL.String()),
			zap.Error(err))
		return GenericResponse(r.config.GenericMessage)
	}

	env := Decode(body)
	env.Code = resp.StatusCode

	if r.config.Debug {
		r.logger.Debug("Received response",
			zap.String("url", httpReq.URL.String()),
			zap.Int("code", resp.StatusCode),
			zap.String("status", string(env.Status)),
			zap.Duration("elapsed", time.Since(start)),
			zap.ByteString("body", body))
	}

	return env
}

func (r *Requester) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	endpoint, err := r.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := req.contentType
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			body = bytes.NewReader(b)
		case string:
			body = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			body = bytes.NewReader(data)
		}
		if contentType == "" {
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if r.credentials != nil {
		if token := r.credentials.BearerToken(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// resolve joins path onto the base URL. Absolute URLs are used unchanged.
func (r *Requester) resolve(path string, query url.Values) (string, error) {
	var endpoint string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		endpoint = path
	} else {
		base := r.baseURL()
		if base == "" {
			return "", fmt.Errorf("no host configured for path %s", path)
		}
		endpoint = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}

	if len(query) == 0 {
		return endpoint, nil
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + query.Encode(), nil
}

// baseURL prefers the configured host over the session host.
func (r *Requester) baseURL() string {
	if r.config.Host != "" {
		return r.config.Host
	}
	if r.credentials != nil {
		return r.credentials.BaseURL()
	}
	return ""
}

func (r *Requester) dedupeKey(req Request) string {
	var b strings.Builder
	b.WriteString(req.Path)
	b.WriteByte('?')
	b.WriteString(req.Query.Encode())

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(req.Headers[k])
	}
	return b.String()
}
