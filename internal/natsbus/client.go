package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// flushTimeout bounds how long Close waits for buffered events to reach
// the server.
const flushTimeout = 2 * time.Second

// Client publishes office events as JSON and subscribes observers to them.
type Client struct {
	conn *nats.Conn
	name string
}

// NewClient connects to the embedded bus. The name identifies the
// connection in server logs, e.g. "office-engine".
func NewClient(bus *Bus, name string) (*Client, error) {
	conn, err := nats.Connect(bus.ClientURL(),
		nats.Name(name),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Warn("nats async error", "client", name, "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s to nats: %w", name, err)
	}
	return &Client{conn: conn, name: name}, nil
}

// PublishJSON encodes v and publishes it on topic.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if err := c.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(topic, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything sent so far.
func (c *Client) Flush() error {
	return c.conn.FlushTimeout(flushTimeout)
}

// Close delivers buffered events before disconnecting.
func (c *Client) Close() {
	if err := c.Flush(); err != nil {
		slog.Debug("nats flush on close failed", "client", c.name, "error", err)
	}
	c.conn.Close()
}
