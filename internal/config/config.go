// Package config loads the poller configuration from a file, EQUINOX_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults < file < environment.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/unklstewy/equinox/pkg/mqtt"
	"github.com/unklstewy/equinox/pkg/requester"
)

// EnvPrefix prefixes every environment override, e.g. EQUINOX_HOST.
const EnvPrefix = "EQUINOX"

// Config is the poller configuration.
type Config struct {
	Name           string           `mapstructure:"name"`
	LogLevel       string           `mapstructure:"log_level"`
	ListenAddress  string           `mapstructure:"listen_address"`
	HealthInterval time.Duration    `mapstructure:"health_interval"`
	Requester      requester.Config `mapstructure:"requester"`
	MQTT           mqtt.Config      `mapstructure:"mqtt"`
	Session        SessionConfig    `mapstructure:"session"`
	Endpoints      []EndpointConfig `mapstructure:"endpoints"`
}

// SessionConfig selects where the user session is persisted.
type SessionConfig struct {
	// Store is one of memory, file or postgres
	Store string `mapstructure:"store"`
	// Path is the preference file for the file store
	Path string `mapstructure:"path"`
	// DSN is the connection string for the postgres store
	DSN string `mapstructure:"dsn"`
	// Namespace scopes postgres rows
	Namespace string `mapstructure:"namespace"`
}

// EndpointConfig describes one endpoint polled by its own retriever.
type EndpointConfig struct {
	Name     string            `mapstructure:"name"`
	Method   string            `mapstructure:"method"`
	Path     string            `mapstructure:"path"`
	Interval time.Duration     `mapstructure:"interval"`
	Once     bool              `mapstructure:"once"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Session store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "poller")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_address", ":8080")
	v.SetDefault("health_interval", 30*time.Second)
	v.SetDefault("requester.timeout", requester.DefaultTimeout)
	v.SetDefault("requester.generic_message", requester.DefaultGenericMessage)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("session.store", StoreMemory)
	v.SetDefault("session.namespace", "default")
}

// Load reads path (optional) and environment overrides into a validated
// Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{"requester.host", "requester.insecure_skip_verify", "requester.debug", "mqtt.broker_url", "mqtt.client_id", "mqtt.username", "mqtt.password", "session.path", "session.dsn"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and fills endpoint defaults.
func (c *Config) Validate() error {
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health_interval must be positive")
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreFile:
		if c.Session.Path == "" {
			return fmt.Errorf("session.path is required for the file store")
		}
	case StorePostgres:
		if c.Session.DSN == "" {
			return fmt.Errorf("session.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d has no name", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %s", ep.Name)
		}
		seen[ep.Name] = true
		if ep.Path == "" {
			return fmt.Errorf("endpoint %s has no path", ep.Name)
		}
		if ep.Method == "" {
			ep.Method = http.MethodGet
		}
		ep.Method = strings.ToUpper(ep.Method)
	}
	return nil
}
