package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unklstewy/equinox/pkg/requester"
)

const sample = `
name: mobile-poller
requester:
  host: https://api.example.com
  timeout: 5s
  insecure_skip_verify: true
  headers:
    X-Client: equinox
mqtt:
  broker_url: tcp://localhost:1883
session:
  store: file
  path: /tmp/session.yaml
endpoints:
  - name: profile
    path: /profile
    interval: 2s
  - name: ping
    method: post
    path: /ping
    once: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "equinox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "poller", cfg.Name)
	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, requester.DefaultTimeout, cfg.Requester.Timeout)
	assert.Equal(t, StoreMemory, cfg.Session.Store)
	assert.Empty(t, cfg.Endpoints)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "mobile-poller", cfg.Name)
	assert.Equal(t, "https://api.example.com", cfg.Requester.Host)
	assert.Equal(t, 5*time.Second, cfg.Requester.Timeout)
	assert.True(t, cfg.Requester.InsecureSkipVerify)
	assert.Equal(t, "equinox", cfg.Requester.Headers["x-client"])
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, StoreFile, cfg.Session.Store)

	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, "GET", cfg.Endpoints[0].Method)
	assert.Equal(t, 2*time.Second, cfg.Endpoints[0].Interval)
	assert.Equal(t, "POST", cfg.Endpoints[1].Method)
	assert.True(t, cfg.Endpoints[1].Once)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EQUINOX_REQUESTER_HOST", "http://override:9000")
	t.Setenv("EQUINOX_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000", cfg.Requester.Host)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "file store without path", mutate: func(c *Config) { c.Session = SessionConfig{Store: StoreFile} }, wantErr: "session.path"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Session = SessionConfig{Store: StorePostgres} }, wantErr: "session.dsn"},
		{name: "unknown store", mutate: func(c *Config) { c.Session = SessionConfig{Store: "redis"} }, wantErr: "unknown session store"},
		{name: "unnamed endpoint", mutate: func(c *Config) { c.Endpoints = []EndpointConfig{{Path: "/x"}} }, wantErr: "has no name"},
		{name: "endpoint without path", mutate: func(c *Config) { c.Endpoints = []EndpointConfig{{Name: "x"}} }, wantErr: "has no path"},
		{name: "duplicate endpoint", mutate: func(c *Config) {
			c.Endpoints = []EndpointConfig{{Name: "x", Path: "/a"}, {Name: "x", Path: "/b"}}
		}, wantErr: "duplicate"},
		{name: "bad health interval", mutate: func(c *Config) { c.HealthInterval = 0 }, wantErr: "health_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{HealthInterval: time.Second, Session: SessionConfig{Store: StoreMemory}}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
