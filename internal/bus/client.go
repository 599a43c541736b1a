package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/protocol"
)

// Client wraps a NATS connection and publishes evaluation events under a
// subject prefix.
type Client struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials the configured servers. When url is non-empty it replaces
// cfg.Servers, which is how an embedded server is reached.
func Connect(ctx context.Context, cfg config.BusConfig, url string, log *slog.Logger) (*Client, error) {
	servers := cfg.Servers
	if url != "" {
		servers = []string{url}
	}
	if len(servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := []nats.Option{
		nats.Name("sttcompare"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	joined := strings.Join(servers, ",")
	conn, err := nats.Connect(joined, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log = log.With(slog.String("component", "bus"))
	log.Info("connected to NATS", slog.String("servers", joined))

	return &Client{conn: conn, prefix: cfg.SubjectPrefix, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) publish(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	subject := protocol.Subject(c.prefix, name)
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (c *Client) RunStarted(_ context.Context, evt protocol.RunStarted) error {
	return c.publish(protocol.SubjectRunStarted, evt)
}

func (c *Client) SampleScored(_ context.Context, evt protocol.SampleScored) error {
	return c.publish(protocol.SubjectSampleScored, evt)
}

func (c *Client) SampleFailed(_ context.Context, evt protocol.SampleFailed) error {
	return c.publish(protocol.SubjectSampleFailed, evt)
}

// RunCompleted publishes the final event and flushes so it is delivered
// before the process exits.
func (c *Client) RunCompleted(ctx context.Context, evt protocol.RunCompleted) error {
	if err := c.publish(protocol.SubjectRunCompleted, evt); err != nil {
		return err
	}
	return c.conn.FlushWithContext(ctx)
}
