package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whisper/chat-client/internal/auth"
	"github.com/whisper/chat-client/internal/protocol"
	"github.com/whisper/chat-client/internal/realtime"
	"github.com/whisper/chat-client/internal/session"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type recordingView struct {
	mu    sync.Mutex
	calls []string
	msgs  []Rendered
}

func (v *recordingView) record(call string) {
	v.mu.Lock()
	v.calls = append(v.calls, call)
	v.mu.Unlock()
}

func (v *recordingView) ShowAuth(tab Tab)        { v.record("auth:" + tab.String()) }
func (v *recordingView) ShowChat(username string) { v.record("chat:" + username) }
func (v *recordingView) ClearError(slot Slot)     { v.record("clear:" + slot.String()) }
func (v *recordingView) ClearInput()              { v.record("clear-input") }

func (v *recordingView) ShowError(slot Slot, text string) {
	v.record("error:" + slot.String() + ":" + text)
}

func (v *recordingView) AppendMessage(r Rendered) {
	v.mu.Lock()
	v.msgs = append(v.msgs, r)
	v.mu.Unlock()
	v.record("message:" + r.Class)
}

func (v *recordingView) has(call string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.calls {
		if c == call {
			return true
		}
	}
	return false
}

type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) ReadText() ([]byte, error) {
	select {
	case data := <-f.incoming:
		return data, nil
	case <-f.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (f *fakeConn) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	conn *fakeConn
	err  error

	mu      sync.Mutex
	targets []string
}

func (d *fakeDialer) Dial(_ context.Context, target string) (realtime.Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.targets...)
}

type recordingMirror struct {
	got []protocol.InboundMessage
}

func (m *recordingMirror) Mirror(msg protocol.InboundMessage) error {
	m.got = append(m.got, msg)
	return nil
}

// authServer accepts alice/secret1 on /api/login and any register with a
// username other than "taken".
func authServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var creds protocol.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		w.Header().Set("Content-Type", "application/json")
		if creds.Username != "alice" || creds.Password != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid credentials"}`)
			return
		}
		fmt.Fprint(w, `{"token":"abc123","user":{"id":"1","username":"alice"}}`)
	})
	mux.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var creds protocol.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		w.Header().Set("Content-Type", "application/json")
		if creds.Username == "taken" {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error":"username already exists"}`)
			return
		}
		fmt.Fprintf(w, `{"token":"reg-token","user":{"id":"2","username":%q}}`, creds.Username)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	ctx    context.Context
	c      *Controller
	view   *recordingView
	conn   *fakeConn
	dialer *fakeDialer
	store  *session.Store
	mirror *recordingMirror
	hits   *atomic.Int32
	server *url.URL
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	hits := &atomic.Int32{}
	srv := authServer(t, hits)
	client, err := auth.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("auth.NewClient() error: %v", err)
	}
	base, _ := url.Parse(srv.URL)

	h := &harness{
		ctx:    context.Background(),
		view:   &recordingView{},
		conn:   newFakeConn(),
		store:  session.NewStore(session.NewMemoryBackend()),
		mirror: &recordingMirror{},
		hits:   hits,
		server: base,
	}
	h.dialer = &fakeDialer{conn: h.conn}

	cfg.Store = h.store
	cfg.Auth = client
	cfg.Server = base
	cfg.Dialer = h.dialer
	cfg.View = h.view
	cfg.Mirror = h.mirror
	cfg.Location = time.UTC

	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController() error: %v", err)
	}
	h.c = c
	t.Cleanup(func() { c.channel.Close() })
	return h
}

// completeAuth waits for the in-flight auth request and applies its result,
// as Run would.
func (h *harness) completeAuth(t *testing.T) {
	t.Helper()
	select {
	case out := <-h.c.authDone:
		h.c.finishAuth(h.ctx, out)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth completion")
	}
}

// nextEvent applies the next event of the current channel.
func (h *harness) nextEvent(t *testing.T) realtime.Event {
	t.Helper()
	if h.c.channel == nil {
		t.Fatal("no channel")
	}
	select {
	case ev := <-h.c.channel.Events():
		h.c.handleEvent(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return realtime.Event{}
	}
}

func (h *harness) wsTarget(token string) string {
	target, _ := realtime.EndpointURL(h.server, token)
	return target
}

// ---------------------------------------------------------------------------
// Auth flows
// ---------------------------------------------------------------------------

func TestLogin_PersistsSessionAndConnects(t *testing.T) {
	h := newHarness(t, Config{})

	h.c.load(h.ctx)
	if h.c.Screen() != ScreenAuth || !h.view.has("auth:login") {
		t.Fatal("expected auth screen on the login tab without a session")
	}

	h.c.dispatch(h.ctx, Login{Username: "alice", Password: "secret1"})
	h.completeAuth(t)

	sess := h.store.Load(h.ctx)
	if sess.Token != "abc123" || sess.Username != "alice" {
		t.Errorf("unexpected persisted session %+v", sess)
	}
	if h.c.Screen() != ScreenChat || !h.view.has("chat:alice") {
		t.Error("expected chat screen for alice")
	}

	if ev := h.nextEvent(t); ev.Kind != realtime.EventOpen {
		t.Fatalf("expected open event, got %v", ev.Kind)
	}
	dialed := h.dialer.dialed()
	if len(dialed) != 1 || dialed[0] != h.wsTarget("abc123") {
		t.Errorf("unexpected dial targets %v", dialed)
	}
}

func TestLogin_RejectedLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, Config{})
	h.c.load(h.ctx)

	h.c.dispatch(h.ctx, Login{Username: "alice", Password: "wrongpw"})
	h.completeAuth(t)

	if h.c.Screen() != ScreenAuth {
		t.Error("expected to stay on the auth screen")
	}
	if got := h.c.Error(SlotAuth); !got.Visible() || got.Text() != "invalid credentials" {
		t.Errorf("unexpected auth error slot %q (visible=%v)", got.Text(), got.Visible())
	}
	if h.store.Load(h.ctx).Valid() {
		t.Error("a failed login must not persist a session")
	}
	if len(h.dialer.dialed()) != 0 {
		t.Error("a failed login must not connect")
	}
}

func TestRegister_ValidationSendsNothing(t *testing.T) {
	h := newHarness(t, Config{InitialTab: TabRegister})
	h.c.load(h.ctx)

	h.c.dispatch(h.ctx, Register{Username: "bob", Password: "abc", Confirm: "abc"})
	h.completeAuth(t)

	if got := h.c.Error(SlotAuth).Text(); got != auth.MsgPasswordTooShort {
		t.Errorf("unexpected error %q", got)
	}
	if n := h.hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestRegister_SuccessAndConflict(t *testing.T) {
	h := newHarness(t, Config{InitialTab: TabRegister})
	h.c.load(h.ctx)
	if !h.view.has("auth:register") {
		t.Fatal("expected the register tab")
	}

	h.c.dispatch(h.ctx, Register{Username: "taken", Password: "secret1", Confirm: "secret1"})
	h.completeAuth(t)
	if got := h.c.Error(SlotAuth).Text(); got != "username already exists" {
		t.Errorf("unexpected error %q", got)
	}

	h.c.dispatch(h.ctx, Register{Username: "carol", Password: "secret1", Confirm: "secret1"})
	h.completeAuth(t)
	if h.c.Error(SlotAuth).Visible() {
		t.Error("auth error must be cleared by a new submit")
	}
	if sess := h.c.Session(); sess.Token != "reg-token" || sess.Username != "carol" {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestSwitchTab_ClearsAuthError(t *testing.T) {
	h := newHarness(t, Config{})
	h.c.load(h.ctx)

	h.c.dispatch(h.ctx, Login{Username: "", Password: ""})
	h.completeAuth(t)
	if got := h.c.Error(SlotAuth).Text(); got != auth.MsgMissingFields {
		t.Fatalf("unexpected error %q", got)
	}

	h.c.dispatch(h.ctx, SwitchTab{Tab: TabRegister})
	if h.c.Tab() != TabRegister || !h.view.has("auth:register") {
		t.Error("expected register tab")
	}
	if h.c.Error(SlotAuth).Visible() || !h.view.has("clear:auth") {
		t.Error("tab switch must clear the auth error")
	}
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func TestLoad_ResumesPersistedSession(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.Save(h.ctx, "abc123", "alice")

	if !h.c.load(h.ctx) {
		t.Fatal("expected the persisted session to load")
	}
	if h.c.Screen() != ScreenChat || !h.view.has("chat:alice") {
		t.Error("expected chat screen without re-authenticating")
	}
	if h.view.has("auth:login") {
		t.Error("auth screen must not be shown")
	}
	h.nextEvent(t)
	if dialed := h.dialer.dialed(); len(dialed) != 1 || dialed[0] != h.wsTarget("abc123") {
		t.Errorf("unexpected dial targets %v", dialed)
	}
}

func TestLogout_ClearsSessionAndClosesChannel(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.Save(h.ctx, "abc123", "alice")
	h.c.load(h.ctx)
	h.nextEvent(t)

	h.c.dispatch(h.ctx, Logout{})

	if h.store.Load(h.ctx).Valid() {
		t.Error("session must be cleared")
	}
	if !h.conn.isClosed() {
		t.Error("connection must be closed")
	}
	if h.c.channel != nil {
		t.Error("channel must be released")
	}
	if h.c.Screen() != ScreenAuth || !h.view.has("auth:login") {
		t.Error("expected auth screen after logout")
	}
}

func TestRun_RequireSession(t *testing.T) {
	h := newHarness(t, Config{RequireSession: true})

	err := h.c.Run(h.ctx, make(chan Action))
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
	if len(h.view.calls) != 0 {
		t.Errorf("nothing must be drawn, got %v", h.view.calls)
	}
}

func TestRun_LoginThenQuitKeepsSession(t *testing.T) {
	h := newHarness(t, Config{})
	actions := make(chan Action)
	done := make(chan error, 1)
	go func() { done <- h.c.Run(h.ctx, actions) }()

	actions <- Login{Username: "alice", Password: "secret1"}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.dialer.dialed()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("controller never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	actions <- Send{Content: "hi"}
	close(actions)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after actions closed")
	}

	if !h.conn.isClosed() {
		t.Error("connection must be closed on exit")
	}
	if sess := h.store.Load(h.ctx); sess.Token != "abc123" {
		t.Errorf("session must survive exit, got %+v", sess)
	}
	if !h.view.has("clear-input") {
		t.Error("send must clear the input")
	}
}

// ---------------------------------------------------------------------------
// Messages and connection errors
// ---------------------------------------------------------------------------

func TestMessages_RenderedAndMirrored(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.Save(h.ctx, "abc123", "alice")
	h.c.load(h.ctx)
	h.nextEvent(t)

	h.conn.incoming <- []byte(`{"type":"system","username":"bob","content":"bob joined the chat","time":"2024-05-01T10:20:29Z"}`)
	h.conn.incoming <- []byte(`{"broken`)
	h.conn.incoming <- []byte(`{"type":"message","username":"alice","content":"hi","time":"2024-05-01T10:20:30Z"}`)
	h.conn.incoming <- []byte(`{"type":"message","username":"bob","content":"<script>alert(1)</script>","time":"2024-05-01T10:20:31Z"}`)
	for i := 0; i < 4; i++ {
		h.nextEvent(t)
	}

	msgs := h.view.msgs
	if len(msgs) != 3 {
		t.Fatalf("expected 3 rendered messages (malformed dropped), got %d", len(msgs))
	}
	if msgs[0].Class != ClassSystem || msgs[0].Header() != "" {
		t.Errorf("unexpected system render %+v", msgs[0])
	}
	if msgs[1].Class != ClassOwn || msgs[1].Header() != "alice • 10:20:30" {
		t.Errorf("unexpected own render %+v", msgs[1])
	}
	if msgs[2].Class != ClassOther {
		t.Errorf("unexpected other render %+v", msgs[2])
	}
	if len(h.mirror.got) != 3 {
		t.Errorf("expected 3 mirrored messages, got %d", len(h.mirror.got))
	}
	if h.c.Error(SlotChat).Visible() {
		t.Error("a malformed frame must not surface an error")
	}
}

func TestSend_WritesFrameAndClearsInput(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.Save(h.ctx, "abc123", "alice")
	h.c.load(h.ctx)
	h.nextEvent(t)

	h.c.dispatch(h.ctx, Send{Content: "  hi  "})
	h.c.dispatch(h.ctx, Send{Content: "   "})

	h.conn.mu.Lock()
	written := append([]string(nil), h.conn.written...)
	h.conn.mu.Unlock()
	if len(written) != 1 || written[0] != `{"type":"message","content":"hi"}` {
		t.Errorf("unexpected frames %v", written)
	}

	clears := 0
	for _, c := range h.view.calls {
		if c == "clear-input" {
			clears++
		}
	}
	if clears != 2 {
		t.Errorf("input must be cleared on every submit, got %d", clears)
	}
}

func TestConnectionError_ShownInChatSlot(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.err = errors.New("connection refused")
	h.store.Save(h.ctx, "abc123", "alice")
	h.c.load(h.ctx)

	if ev := h.nextEvent(t); ev.Kind != realtime.EventError {
		t.Fatalf("expected error event, got %v", ev.Kind)
	}
	if got := h.c.Error(SlotChat); !got.Visible() || got.Text() != MsgConnectionError {
		t.Errorf("unexpected chat error %q", got.Text())
	}
	if ev := h.nextEvent(t); ev.Kind != realtime.EventClose {
		t.Fatalf("expected close event, got %v", ev.Kind)
	}

	// Submitting with no live connection still clears the input.
	h.c.dispatch(h.ctx, Send{Content: "hi"})
	if !h.view.has("clear-input") {
		t.Error("send must clear the input")
	}
	if !h.view.has("error:chat:" + MsgConnectionError) {
		t.Error("view was not told about the error")
	}
}

func TestNewController_RequiresDependencies(t *testing.T) {
	if _, err := NewController(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

// reload builds a second controller over the same persisted store, as a
// fresh page load would.
func (h *harness) reload(t *testing.T) (*Controller, *recordingView) {
	t.Helper()
	v := &recordingView{}
	c, err := NewController(Config{
		Store:    h.store,
		Auth:     h.c.auth,
		Server:   h.server,
		Dialer:   &fakeDialer{conn: newFakeConn()},
		View:     v,
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewController() error: %v", err)
	}
	t.Cleanup(func() { c.channel.Close() })
	c.load(h.ctx)
	return c, v
}

func TestLogin_SurvivesReload(t *testing.T) {
	h := newHarness(t, Config{})
	h.c.load(h.ctx)
	h.c.dispatch(h.ctx, Login{Username: "alice", Password: "secret1"})
	h.completeAuth(t)

	c, v := h.reload(t)
	if c.Screen() != ScreenChat || !v.has("chat:alice") {
		t.Errorf("expected chat view for alice after reload, got %v", v.calls)
	}
}

func TestLogout_ReloadShowsAuth(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.Save(h.ctx, "abc123", "alice")
	h.c.load(h.ctx)
	h.c.dispatch(h.ctx, Logout{})

	c, v := h.reload(t)
	if c.Screen() != ScreenAuth || !v.has("auth:login") {
		t.Errorf("expected auth view after logout and reload, got %v", v.calls)
	}
}
