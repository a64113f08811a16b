// Package transport wraps the MQTT client connection to the telemetry
// broker. The broker is external infrastructure; this client reconnects
// automatically and replays its subscriptions on every (re)connect.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Message is one received publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler is invoked for each received message. Handlers must not panic the
// receive loop; the client guards each invocation.
type Handler func(Message)

// Config lists the broker connection parameters.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// Client is a reconnecting MQTT client with JSON publish helpers.
type Client struct {
	cfg    Config
	logger *slog.Logger
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]Handler
}

// New constructs a client; Connect must be called before use.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "itemreminder-server-" + uuid.New().String()[:8]
	}

	c := &Client{cfg: cfg, logger: logger, subs: make(map[string]Handler)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false)

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		c.logger.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", cfg.ClientID)
		c.resubscribe(mc)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost, reconnecting", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect dials the broker, retrying with exponential backoff until the
// context is cancelled. After the first successful connect, the paho client
// owns reconnection.
func (c *Client) Connect(ctx context.Context) error {
	operation := func() error {
		token := c.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Warn("mqtt connect failed, will retry", "broker", c.cfg.BrokerURL, "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(newConnectBackoff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// newConnectBackoff retries without a deadline of its own. Only context
// cancellation stops the connect loop; the default MaxElapsedTime would
// abandon a broker that stays down longer than 15 minutes.
func newConnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return bo
}

// Subscribe registers a handler for topic. The subscription is replayed on
// every reconnect.
func (c *Client) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.client.IsConnected() {
		// The connect callback will pick it up.
		return nil
	}
	return c.subscribe(c.client, topic, h)
}

// Publish JSON-encodes payload and publishes it at QoS 0.
func (c *Client) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode publish payload: %w", err)
	}

	token := c.client.Publish(topic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) resubscribe(mc mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(mc, topic, h); err != nil {
			c.logger.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) subscribe(mc mqtt.Client, topic string, h Handler) error {
	token := mc.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		h(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("mqtt subscribed", "topic", topic)
	return nil
}
