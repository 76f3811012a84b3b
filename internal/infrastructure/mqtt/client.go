package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives a message. Handlers run on paho's goroutines;
// a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a broker connection. It is safe for concurrent use and
// re-subscribes every tracked topic after a reconnect.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]subscription
	onConnect     func()
	logger        Logger
}

// Connect dials the broker and waits for the first connection.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	opts := buildClientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
		logger:        noopLogger{},
	}
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// SetLogger sets the logger used for connection changes and handler failures.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// SetOnConnect registers fn to run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, s := range c.subscriptions {
		subs[topic] = s
	}
	fn := c.onConnect
	logger := c.logger
	c.mu.Unlock()

	logger.Info("mqtt connected", "broker", brokerURL(c.cfg), "subscriptions", len(subs))
	for topic, s := range subs {
		c.client.Subscribe(topic, s.qos, c.wrap(s.handler))
	}
	c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, StatusOnline)
	if fn != nil {
		fn()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	logger := c.logger
	c.mu.Unlock()
	logger.Warn("mqtt connection lost", "error", err)
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, StatusOffline).WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// wrap adapts handler to paho, recovering panics and logging errors.
func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		deliver(c.log(), handler, msg.Topic(), msg.Payload())
	}
}

func deliver(logger Logger, handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mqtt handler panicked", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		logger.Warn("mqtt handler failed", "topic", topic, "error", err)
	}
}
