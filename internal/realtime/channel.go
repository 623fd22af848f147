// Package realtime manages the single WebSocket connection a signed-in client
// holds to /api/ws. A Channel is a small state machine:
//
//	Disconnected -> Connecting -> Open -> Disconnected
//
// Each instance is used once; there is no automatic reconnect. Everything the
// connection observes is reported as an Event on Events() so the owner can
// handle it on its own goroutine.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind identifies what happened on the connection.
type EventKind int

const (
	// EventOpen: the handshake completed and Send is usable.
	EventOpen EventKind = iota + 1
	// EventMessage: a well-formed frame arrived; see Event.Message.
	EventMessage
	// EventMalformed: a frame could not be parsed and was dropped.
	EventMalformed
	// EventError: the dial or the connection failed.
	EventError
	// EventClose: the connection is gone. Always the last event.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventMalformed:
		return "malformed"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on Channel.Events.
type Event struct {
	Kind    EventKind
	Message protocol.InboundMessage
	Err     error
}

// ErrAlreadyUsed is returned by Connect on an instance that has already been
// connected or closed.
var ErrAlreadyUsed = errors.New("realtime: channel already used")

// eventBuffer is the capacity of the events channel.
const eventBuffer = 32

// Channel is one realtime connection. Send and Close may be called from any
// goroutine; events are produced by an internal reader goroutine.
type Channel struct {
	server *url.URL
	dialer Dialer
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	state  State
	used   bool
	closed bool
	conn   Conn
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewChannel returns a disconnected channel for the server at base (the same
// http(s) URL the REST endpoints live under).
func NewChannel(base *url.URL, dialer Dialer) *Channel {
	return &Channel{
		server: base,
		dialer: dialer,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel on which connection events are delivered.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts dialing the realtime endpoint with token as the only
// credential. It returns immediately; the outcome arrives as EventOpen or as
// EventError followed by EventClose.
func (c *Channel) Connect(ctx context.Context, token string) error {
	target, err := EndpointURL(c.server, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.used || c.closed {
		c.mu.Unlock()
		return ErrAlreadyUsed
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.used = true
	c.state = StateConnecting
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(dialCtx, target)
	return nil
}

func (c *Channel) run(ctx context.Context, target string) {
	start := time.Now()
	conn, err := c.dialer.Dial(ctx, target)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		c.mu.Lock()
		closed := c.closed
		c.state = StateDisconnected
		c.mu.Unlock()
		if closed {
			return
		}
		log.Printf("[realtime] connect failed: %v", err)
		c.emit(Event{Kind: EventError, Err: err})
		c.emit(Event{Kind: EventClose})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	metrics.ConnectLatency.Observe(time.Since(start).Seconds())
	metrics.ConnectionOpen.Set(1)
	log.Printf("[realtime] connected in %s", time.Since(start).Round(time.Millisecond))

	c.emit(Event{Kind: EventOpen})
	c.readLoop(conn)
}

// readLoop reads frames until the connection fails or is closed.
func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadText()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.state = StateDisconnected
			if !closed {
				c.conn = nil
			}
			c.mu.Unlock()
			if closed {
				// Torn down by Close; nobody is listening anymore.
				return
			}

			metrics.ConnectionOpen.Set(0)
			if cerr := conn.Close(); cerr != nil {
				log.Printf("[realtime] close after read failure: %v", cerr)
			}
			if errors.Is(err, ErrPeerClosed) {
				log.Printf("[realtime] disconnected: %v", err)
			} else {
				log.Printf("[realtime] connection error: %v", err)
				c.emit(Event{Kind: EventError, Err: err})
			}
			c.emit(Event{Kind: EventClose})
			return
		}

		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			metrics.MessagesTotal.WithLabelValues("malformed").Inc()
			log.Printf("[realtime] dropping malformed frame (%d bytes): %v", len(data), err)
			c.emit(Event{Kind: EventMalformed, Err: err})
			continue
		}

		metrics.MessagesTotal.WithLabelValues("received").Inc()
		c.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// emit delivers ev unless the channel has been closed.
func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Send writes content as a chat frame. It reports false, writing nothing,
// unless the channel is open and content is non-empty after trimming.
func (c *Channel) Send(content string) bool {
	content = strings.TrimSpace(content)

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if content == "" || state != StateOpen || conn == nil {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	data, err := protocol.NewOutboundMessage(content)
	if err != nil {
		log.Printf("[realtime] encode failed: %v", err)
		return false
	}
	if err := conn.WriteText(data); err != nil {
		// The reader goroutine observes the broken connection and reports it.
		log.Printf("[realtime] send failed: %v", err)
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return true
}

// Close tears the channel down. It is safe to call more than once, before
// Connect, and on a nil *Channel. No events are delivered after Close.
func (c *Channel) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		wasOpen := c.state == StateOpen
		c.state = StateDisconnected
		conn, cancel := c.conn, c.cancel
		c.mu.Unlock()

		close(c.done)
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Printf("[realtime] close: %v", err)
			}
		}
		if wasOpen {
			metrics.ConnectionOpen.Set(0)
		}
		log.Printf("[realtime] channel closed")
	})
}
