package mqtt

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultBroker = "tcp://localhost:1883"
	opTimeout     = 10 * time.Second
	qos           = 1
)

// BrokerURL returns MQTT_URL or the local default broker.
func BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return defaultBroker
}

// Options configures a Client. An empty Broker falls back to BrokerURL.
type Options struct {
	Broker   string
	ClientID string
	Logger   *slog.Logger
}

// Client is a paho client that remembers its subscriptions and restores
// them after the broker connection is re-established.
type Client struct {
	client paho.Client
	broker string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

// NewClient configures a client without connecting it.
func NewClient(o Options) *Client {
	if o.Broker == "" {
		o.Broker = BrokerURL()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	c := &Client{
		broker: o.Broker,
		logger: o.Logger.With("component", "mqtt", "broker", o.Broker),
		subs:   make(map[string]paho.MessageHandler),
	}
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("connection lost", "error", err)
		})
	c.client = paho.NewClient(opts)
	return c
}

func (c *Client) onConnect(pc paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, h := range c.subs {
		if err := wait(pc.Subscribe(topic, qos, h), "resubscribe", topic); err != nil {
			c.logger.Warn("failed to restore subscription", "topic", topic, "error", err)
		}
	}
}

// Connect dials the broker once. It gives up at ctx's deadline or after
// opTimeout, whichever comes first.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(opTimeout):
		return &TimeoutError{Op: "connect", Target: c.broker}
	}
}

// Subscribe registers handler for topic at QoS 1.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return wait(c.client.Subscribe(topic, qos, handler), "subscribe", topic)
}

// Publish sends payload to topic at QoS 1 and waits for the broker.
func (c *Client) Publish(topic string, payload []byte) error {
	return wait(c.client.Publish(topic, qos, false, payload), "publish", topic)
}

// Disconnect waits up to a second for in-flight work and closes the
// connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func wait(t paho.Token, op, target string) error {
	if !t.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: op, Target: target}
	}
	return t.Error()
}

// TimeoutError is returned when the broker does not acknowledge an
// operation in time. Target is the topic, or the broker for connect.
type TimeoutError struct {
	Op     string
	Target string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Target
}
