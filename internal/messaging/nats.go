// Package messaging mirrors the chat traffic a client receives onto NATS so
// other tools (archivers, bots, dashboards) can follow a session without
// holding their own WebSocket.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/whisper/chat-client/internal/protocol"
)

// DefaultSubject is the subject prefix mirrored messages are published under.
const DefaultSubject = "chat.mirror"

// NATSClient wraps the NATS connection.
type NATSClient struct {
	conn *nats.Conn
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name prefix; a random suffix is added
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chatclient",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config. It returns an error if
// the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	name := config.Name + "-" + uuid.NewString()[:8]
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s as %s", nc.ConnectedUrl(), name)
	return &NATSClient{conn: nc}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Close flushes pending publishes and closes the connection.
func (c *NATSClient) Close() {
	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}

// Publisher is the part of NATSClient the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Mirror publishes each received chat message as JSON. User messages go to
// <prefix>.message.<username>, system notices to <prefix>.system.
type Mirror struct {
	pub    Publisher
	prefix string
}

func NewMirror(pub Publisher, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &Mirror{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Mirror implements view.Mirror.
func (m *Mirror) Mirror(msg protocol.InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nats mirror encode: %w", err)
	}
	subject := m.SubjectFor(msg)
	if err := m.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// SubjectFor returns the subject msg is published on.
func (m *Mirror) SubjectFor(msg protocol.InboundMessage) string {
	if msg.IsSystem() {
		return m.prefix + "." + protocol.TypeSystem
	}
	return m.prefix + "." + protocol.TypeMessage + "." + subjectToken(msg.Username)
}

// subjectToken makes s usable as a single NATS subject token: separators,
// wildcards and whitespace become '_'.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>':
			return '_'
		case r <= ' ' || r == 0x7f:
			return '_'
		}
		return r
	}, s)
}
