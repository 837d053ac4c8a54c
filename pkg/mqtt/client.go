// Package mqtt publishes retrieval results and health reports to an MQTT
// broker so other processes can observe what the poller fetched.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when publishing before Connect succeeded.
var ErrNotConnected = errors.New("mqtt client not connected")

// Config holds MQTT client configuration.
type Config struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883"
	BrokerURL string `mapstructure:"broker_url"`
	// ClientID must be unique per broker connection
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// QoS used by Publish helpers that do not take one explicitly
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Publisher is the subset of Client used by producers.
type Publisher interface {
	PublishJSON(topic string, retained bool, payload interface{}) error
	IsConnected() bool
}

// MessageHandler handles a received message.
type MessageHandler func(topic string, payload []byte) error

// Client wraps a paho client with JSON helpers and logging.
type Client struct {
	client paho.Client
	logger *zap.Logger
	config Config
}

// NewClient creates a client. It does not connect.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("broker URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := *config
	if cfg.ClientID == "" {
		cfg.ClientID = "equinox-" + NewMessageID()[:8]
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	logger = logger.With(zap.String("component", "mqtt"), zap.String("client_id", cfg.ClientID))

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.BrokerURL))
	})

	return &Client{
		client: paho.NewClient(opts),
		logger: logger,
		config: cfg,
	}, nil
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("connection timeout after %v", c.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect closes the connection after a short grace period.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected returns true if the client is connected to the broker.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.config.QoS, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	c.logger.Debug("Message published",
		zap.String("topic", topic),
		zap.Int("size", len(payload)))
	return nil
}

// PublishJSON marshals payload and publishes it.
func (c *Client) PublishJSON(topic string, retained bool, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(topic, retained, data)
}

// Subscribe routes messages on topic to handler. Handler errors are logged.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Error("Handler error",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s failed: %w", topic, err)
	}

	c.logger.Info("Subscribed to topic", zap.String("topic", topic))
	return nil
}

var _ Publisher = (*Client)(nil)
