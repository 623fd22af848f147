// Package protocol defines the JSON shapes exchanged with the chat server: the
// REST authentication bodies and the WebSocket frames. Every WebSocket frame is
// an object carrying a "type" discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Frame types. The client only ever sends TypeMessage; the server sends both.
const (
	TypeMessage = "message"
	TypeSystem  = "system"
)

// ---------------------------------------------------------------------------
// REST bodies
// ---------------------------------------------------------------------------

// Credentials is the request body of POST /api/login and POST /api/register.
// The register confirmation password is checked locally and never sent.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is the account object echoed back by the server.
type User struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
}

// AuthResponse covers both outcomes of an auth request: Token and User on
// success, Error on a non-2xx status.
type AuthResponse struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
	Error string `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// WebSocket frames
// ---------------------------------------------------------------------------

// OutboundMessage is the only frame the client sends.
type OutboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// InboundMessage is a chat or system frame broadcast by the server.
type InboundMessage struct {
	Type     string    `json:"type"`
	Username string    `json:"username,omitempty"`
	Content  string    `json:"content"`
	Time     Timestamp `json:"time"`
}

// IsSystem reports whether the frame is a server notice (join/leave).
func (m InboundMessage) IsSystem() bool {
	return m.Type == TypeSystem
}

// Timestamp decodes the frame "time" field. The server emits RFC3339 strings;
// numeric unix seconds or milliseconds are accepted as well. An empty or null
// value leaves the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("protocol: invalid time string: %w", err)
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("protocol: invalid time %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("protocol: invalid time %s: %w", data, err)
	}
	// Anything past year 2286 in seconds is taken as milliseconds.
	if n > 1e10 {
		t.Time = time.UnixMilli(n)
	} else {
		t.Time = time.Unix(n, 0)
	}
	return nil
}

// MarshalJSON implements json.Marshaler using RFC3339, matching the server.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// NewOutboundMessage encodes content as a chat frame ready to be written as a
// WebSocket text message.
func NewOutboundMessage(content string) ([]byte, error) {
	out, err := json.Marshal(OutboundMessage{Type: TypeMessage, Content: content})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal outbound message: %w", err)
	}
	return out, nil
}

// ParseServerMessage decodes a frame received from the server. Invalid JSON,
// a missing "type" field and unknown types are all errors.
func ParseServerMessage(data []byte) (InboundMessage, error) {
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return InboundMessage{}, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch partial.Type {
	case "":
		return InboundMessage{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	case TypeMessage, TypeSystem:
	default:
		return InboundMessage{}, fmt.Errorf("protocol: unknown server message type: %q", partial.Type)
	}

	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("protocol: failed to decode %q payload: %w", partial.Type, err)
	}
	return msg, nil
}
