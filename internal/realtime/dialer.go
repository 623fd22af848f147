package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrPeerClosed is wrapped by Conn.ReadText when the server ended the
// connection cleanly.
var ErrPeerClosed = errors.New("realtime: connection closed by server")

// Conn is an established text-message connection.
type Conn interface {
	// ReadText blocks for the next text frame.
	ReadText() ([]byte, error)
	// WriteText sends one text frame. It is safe to call concurrently with
	// ReadText.
	WriteText(data []byte) error
	Close() error
}

// Dialer opens a Conn to a ws:// or wss:// URL.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// closeWriteTimeout bounds the close handshake frame on teardown.
const closeWriteTimeout = time.Second

// WSDialer dials with gobwas/ws.
type WSDialer struct {
	// Timeout bounds the TCP connect and the upgrade handshake. Zero means
	// only ctx applies.
	Timeout time.Duration
}

// Dial implements Dialer.
func (d WSDialer) Dial(ctx context.Context, target string) (Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// Frames the server sent right after the handshake may already sit in br.
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	return newWSConn(conn, src), nil
}

// wsConn is a client-side gobwas connection. Writes, including the pong and
// close replies produced while reading, are serialized by writeMu so frames
// never interleave.
type wsConn struct {
	conn    net.Conn
	reader  *wsutil.Reader
	control wsutil.FrameHandlerFunc

	writeMu   sync.Mutex
	closeSent bool // a close frame went out, as a reply or on Close
	closed    bool
}

func newWSConn(conn net.Conn, src io.Reader) *wsConn {
	c := &wsConn{
		conn:    conn,
		control: wsutil.ControlFrameHandler(conn, ws.StateClientSide),
	}
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	return c
}

// handleControl answers ping and close frames under the write lock.
func (c *wsConn) handleControl(h ws.Header, r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if h.OpCode == ws.OpClose {
		// The handler replies with a close frame before reporting ClosedError.
		c.closeSent = true
	}
	return c.control(h, r)
}

func (c *wsConn) ReadText() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, mapReadError(err)
		}

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.reader); err != nil {
				return nil, mapReadError(err)
			}
			continue
		}

		if hdr.OpCode != ws.OpText {
			if err := c.reader.Discard(); err != nil {
				return nil, mapReadError(err)
			}
			continue
		}

		data, err := io.ReadAll(c.reader)
		if err != nil {
			return nil, mapReadError(err)
		}
		return data, nil
	}
}

func (c *wsConn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Close sends a normal-closure frame, best effort, unless one was already
// sent, and closes the socket. Calls after the first are no-ops.
func (c *wsConn) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	if !c.closeSent {
		c.closeSent = true
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	}
	c.writeMu.Unlock()
	return c.conn.Close()
}

// mapReadError marks a close handshake from the server as ErrPeerClosed. A
// socket that ends without a close frame is a failure, not a clean close.
func mapReadError(err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return fmt.Errorf("%w (code=%d reason=%q)", ErrPeerClosed, closed.Code, closed.Reason)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("realtime: connection dropped without close frame: %w", err)
	}
	return err
}
