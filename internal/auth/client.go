// Package auth implements the REST half of the chat client: login and
// registration against /api/login and /api/register. Every failure is turned
// into an *Error whose Message is safe to show to the user.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// User-visible messages.
const (
	MsgLoginFailed        = "Login failed"
	MsgRegistrationFailed = "Registration failed"
	MsgNetworkError       = "Network error. Please try again."
	MsgMissingFields      = "Please fill in all fields"
	MsgPasswordTooShort   = "Password must be at least 6 characters long"
	MsgPasswordMismatch   = "Passwords do not match"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

// maxResponseBytes caps how much of a response body is decoded.
const maxResponseBytes = 1 << 20

// Kind classifies an auth failure.
type Kind int

const (
	// KindValidation is a local check failure; no request was sent.
	KindValidation Kind = iota + 1
	// KindAuthentication is a non-2xx response from the server.
	KindAuthentication
	// KindNetwork is a transport failure or an unusable response body.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "rejected"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is returned by Login and Register.
type Error struct {
	Kind    Kind
	Message string
	Status  int   // HTTP status for KindAuthentication
	Err     error // underlying cause for KindNetwork
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is a successful authentication. Username is the server's canonical
// form, which may differ from what was submitted.
type Result struct {
	Token    string
	Username string
}

// Client talks to the REST endpoints of one server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    *time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request. Zero means no timeout. It applies to a
// copy of the http.Client, so a shared client passed to WithHTTPClient is
// left untouched whatever the option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = &d
	}
}

// NewClient returns a Client for the server at baseURL (scheme and host, for
// example http://localhost:8080).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("auth: server url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("auth: server url %q has no host", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout != nil {
		hc := *c.httpClient
		hc.Timeout = *c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// Login authenticates an existing account.
func (c *Client) Login(ctx context.Context, username, password string) (Result, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Result{}, c.reject("login", &Error{Kind: KindValidation, Message: MsgMissingFields})
	}
	return c.do(ctx, "login", "/api/login", protocol.Credentials{Username: username, Password: password}, MsgLoginFailed)
}

// Register creates an account. The confirmation is only compared locally.
func (c *Client) Register(ctx context.Context, username, password, confirm string) (Result, error) {
	username = strings.TrimSpace(username)
	if err := ValidateRegistration(username, password, confirm); err != nil {
		return Result{}, c.reject("register", err)
	}
	return c.do(ctx, "register", "/api/register", protocol.Credentials{Username: username, Password: password}, MsgRegistrationFailed)
}

// ValidateRegistration runs the local registration checks in order and
// returns the first failure.
func ValidateRegistration(username, password, confirm string) *Error {
	switch {
	case username == "" || password == "" || confirm == "":
		return &Error{Kind: KindValidation, Message: MsgMissingFields}
	case passwordLength(password) < MinPasswordLength:
		return &Error{Kind: KindValidation, Message: MsgPasswordTooShort}
	case password != confirm:
		return &Error{Kind: KindValidation, Message: MsgPasswordMismatch}
	}
	return nil
}

// passwordLength counts UTF-16 code units, the unit browsers use for string
// length, so a character outside the BMP counts twice.
func passwordLength(password string) int {
	n := 0
	for _, r := range password {
		n += utf16.RuneLen(r)
	}
	return n
}

func (c *Client) do(ctx context.Context, op, path string, creds protocol.Credentials, fallback string) (Result, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return Result{}, c.reject(op, &Error{Kind: KindNetwork, Message: MsgNetworkError, Err: err})
	}

	endpoint := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, c.reject(op, &Error{Kind: KindNetwork, Message: MsgNetworkError, Err: err})
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, c.reject(op, &Error{Kind: KindNetwork, Message: MsgNetworkError, Err: err})
	}
	defer resp.Body.Close()

	var data protocol.AuthResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := dec.Decode(&data); err != nil {
		return Result{}, c.reject(op, &Error{
			Kind:    KindNetwork,
			Message: MsgNetworkError,
			Err:     fmt.Errorf("decode %s response (status %d): %w", path, resp.StatusCode, err),
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := data.Error
		if msg == "" {
			msg = fallback
		}
		return Result{}, c.reject(op, &Error{Kind: KindAuthentication, Message: msg, Status: resp.StatusCode})
	}

	if data.Token == "" || data.User == nil || data.User.Username == "" {
		return Result{}, c.reject(op, &Error{
			Kind:    KindNetwork,
			Message: MsgNetworkError,
			Err:     errors.New("success response is missing token or user.username"),
		})
	}

	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	log.Printf("[auth] %s ok user=%s request_id=%s", op, data.User.Username, requestID)
	return Result{Token: data.Token, Username: data.User.Username}, nil
}

func (c *Client) reject(op string, err *Error) error {
	metrics.AuthRequests.WithLabelValues(op, err.Kind.String()).Inc()
	if err.Kind != KindValidation {
		log.Printf("[auth] %s failed: %v", op, err)
	}
	return err
}
