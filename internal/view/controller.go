// Package view holds the client's screen logic: which screen is showing,
// what the forms do, how messages are rendered and where errors appear. The
// Controller is driven from a single goroutine (Run); a View draws whatever
// the Controller tells it to.
package view

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/whisper/chat-client/internal/auth"
	"github.com/whisper/chat-client/internal/protocol"
	"github.com/whisper/chat-client/internal/realtime"
	"github.com/whisper/chat-client/internal/session"
)

// ErrNotAuthenticated is returned by Run when RequireSession is set and no
// session is persisted.
var ErrNotAuthenticated = errors.New("view: not logged in")

// Screen is the top-level screen on display.
type Screen int

const (
	ScreenAuth Screen = iota
	ScreenChat
)

// Tab selects the form on the auth screen.
type Tab int

const (
	TabLogin Tab = iota
	TabRegister
)

func (t Tab) String() string {
	if t == TabRegister {
		return "register"
	}
	return "login"
}

// View draws what the Controller decides. Calls are made from the Run
// goroutine only.
type View interface {
	ShowAuth(tab Tab)
	// ShowChat switches to the chat screen with an empty message list.
	ShowChat(username string)
	AppendMessage(r Rendered)
	ShowError(slot Slot, text string)
	ClearError(slot Slot)
	ClearInput()
}

// Authenticator is the REST side; *auth.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Result, error)
	Register(ctx context.Context, username, password, confirm string) (auth.Result, error)
}

// Mirror receives every message shown in the list.
type Mirror interface {
	Mirror(msg protocol.InboundMessage) error
}

// Action is a user intent fed to Run.
type Action interface {
	action()
}

type SwitchTab struct{ Tab Tab }

type Login struct{ Username, Password string }

type Register struct{ Username, Password, Confirm string }

// Send submits the chat input.
type Send struct{ Content string }

type Logout struct{}

func (SwitchTab) action() {}
func (Login) action()     {}
func (Register) action()  {}
func (Send) action()      {}
func (Logout) action()    {}

// Config wires a Controller.
type Config struct {
	Store  *session.Store
	Auth   Authenticator
	Server *url.URL
	Dialer realtime.Dialer
	View   View

	// Mirror is optional.
	Mirror Mirror
	// Location formats message times; defaults to time.Local.
	Location *time.Location
	// InitialTab is the form shown when there is no session.
	InitialTab Tab
	// RequireSession makes Run fail with ErrNotAuthenticated instead of
	// showing the auth screen.
	RequireSession bool
}

type authOutcome struct {
	op     string
	result auth.Result
	err    error
}

// Controller owns the session, the realtime channel and both error slots.
type Controller struct {
	store   *session.Store
	auth    Authenticator
	server  *url.URL
	dialer  realtime.Dialer
	view    View
	mirror  Mirror
	loc     *time.Location
	require bool

	sess    session.Session
	channel *realtime.Channel
	screen  Screen
	tab     Tab

	authErr ErrorSlot
	chatErr ErrorSlot

	authDone chan authOutcome
	done     chan struct{}
}

func NewController(cfg Config) (*Controller, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("view: session store is required")
	case cfg.Auth == nil:
		return nil, errors.New("view: authenticator is required")
	case cfg.Server == nil:
		return nil, errors.New("view: server url is required")
	case cfg.Dialer == nil:
		return nil, errors.New("view: dialer is required")
	case cfg.View == nil:
		return nil, errors.New("view: view is required")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Controller{
		store:    cfg.Store,
		auth:     cfg.Auth,
		server:   cfg.Server,
		dialer:   cfg.Dialer,
		view:     cfg.View,
		mirror:   cfg.Mirror,
		loc:      loc,
		require:  cfg.RequireSession,
		tab:      cfg.InitialTab,
		authDone: make(chan authOutcome, 1),
		done:     make(chan struct{}),
	}, nil
}

// Run loads the persisted session, shows the matching screen and then
// processes actions, auth completions and connection events until ctx is
// done or actions is closed. The channel is closed on return; the session
// stays persisted.
func (c *Controller) Run(ctx context.Context, actions <-chan Action) error {
	defer c.teardown()

	if !c.load(ctx) && c.require {
		return ErrNotAuthenticated
	}

	for {
		var events <-chan realtime.Event
		if c.channel != nil {
			events = c.channel.Events()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-actions:
			if !ok {
				return nil
			}
			c.dispatch(ctx, a)
		case out := <-c.authDone:
			c.finishAuth(ctx, out)
		case ev := <-events:
			c.handleEvent(ev)
		}
	}
}

// load reports whether a valid session was found.
func (c *Controller) load(ctx context.Context) bool {
	sess := c.store.Load(ctx)
	if !sess.Valid() {
		if !c.require {
			c.showAuth()
		}
		return false
	}
	log.Printf("[view] resuming session for %s", sess.Username)
	c.sess = sess
	c.enterChat(ctx)
	return true
}

func (c *Controller) dispatch(ctx context.Context, a Action) {
	switch a := a.(type) {
	case SwitchTab:
		if c.screen != ScreenAuth {
			return
		}
		c.tab = a.Tab
		c.view.ShowAuth(c.tab)
		c.clearError(SlotAuth)

	case Login:
		if c.screen != ScreenAuth {
			return
		}
		c.clearError(SlotAuth)
		c.startAuth(ctx, "login", func(ctx context.Context) (auth.Result, error) {
			return c.auth.Login(ctx, a.Username, a.Password)
		})

	case Register:
		if c.screen != ScreenAuth {
			return
		}
		c.clearError(SlotAuth)
		c.startAuth(ctx, "register", func(ctx context.Context) (auth.Result, error) {
			return c.auth.Register(ctx, a.Username, a.Password, a.Confirm)
		})

	case Send:
		if c.screen != ScreenChat {
			return
		}
		if c.channel != nil {
			c.channel.Send(a.Content)
		}
		c.view.ClearInput()

	case Logout:
		c.logout(ctx)
	}
}

// startAuth runs call off the loop and posts the outcome back to Run.
func (c *Controller) startAuth(ctx context.Context, op string, call func(context.Context) (auth.Result, error)) {
	go func() {
		res, err := call(ctx)
		select {
		case c.authDone <- authOutcome{op: op, result: res, err: err}:
		case <-c.done:
		}
	}()
}

func (c *Controller) finishAuth(ctx context.Context, out authOutcome) {
	if out.err != nil {
		if c.screen != ScreenAuth {
			log.Printf("[view] ignoring %s failure on the chat screen: %v", out.op, out.err)
			return
		}
		c.showError(SlotAuth, userMessage(out.op, out.err))
		return
	}
	if c.screen != ScreenAuth {
		// Logged out and back in while the request was in flight, or a
		// second submit; the newest result wins.
		log.Printf("[view] %s completed while on the chat screen", out.op)
	}

	log.Printf("[view] %s succeeded for %s", out.op, out.result.Username)
	c.store.Save(ctx, out.result.Token, out.result.Username)
	c.sess = session.Session{Token: out.result.Token, Username: out.result.Username}
	c.clearError(SlotAuth)
	c.enterChat(ctx)
}

// userMessage picks the text for the auth error slot.
func userMessage(op string, err error) string {
	var ae *auth.Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	log.Printf("[view] %s failed: %v", op, err)
	return auth.MsgNetworkError
}

func (c *Controller) showAuth() {
	c.screen = ScreenAuth
	c.view.ShowAuth(c.tab)
}

// enterChat shows the chat screen and opens a fresh channel, replacing any
// previous one.
func (c *Controller) enterChat(ctx context.Context) {
	c.screen = ScreenChat
	c.clearError(SlotChat)
	c.view.ShowChat(c.sess.Username)

	c.channel.Close()
	c.channel = realtime.NewChannel(c.server, c.dialer)
	if err := c.channel.Connect(ctx, c.sess.Token); err != nil {
		log.Printf("[view] connect: %v", err)
		c.channel = nil
		c.showError(SlotChat, MsgConnectionError)
	}
}

func (c *Controller) logout(ctx context.Context) {
	c.channel.Close()
	c.channel = nil
	c.store.Clear(ctx)
	if c.sess.Username != "" {
		log.Printf("[view] %s logged out", c.sess.Username)
	}
	c.sess = session.Session{}
	c.clearError(SlotChat)
	c.showAuth()
}

func (c *Controller) handleEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventOpen:
		log.Printf("[view] connected as %s", c.sess.Username)

	case realtime.EventMessage:
		c.view.AppendMessage(Render(ev.Message, c.sess.Username, c.loc))
		if c.mirror != nil {
			if err := c.mirror.Mirror(ev.Message); err != nil {
				log.Printf("[view] mirror: %v", err)
			}
		}

	case realtime.EventMalformed:
		// Already logged by the channel; nothing is shown.

	case realtime.EventError:
		c.showError(SlotChat, MsgConnectionError)

	case realtime.EventClose:
		c.channel = nil
	}
}

func (c *Controller) showError(slot Slot, text string) {
	c.slot(slot).Show(text)
	c.view.ShowError(slot, text)
}

func (c *Controller) clearError(slot Slot) {
	s := c.slot(slot)
	if !s.Visible() {
		return
	}
	s.Clear()
	c.view.ClearError(slot)
}

func (c *Controller) slot(s Slot) *ErrorSlot {
	if s == SlotChat {
		return &c.chatErr
	}
	return &c.authErr
}

func (c *Controller) teardown() {
	close(c.done)
	c.channel.Close()
	c.channel = nil
}

// Screen, Tab, Session and Error expose state for the entry points and tests.
// They must be called from the Run goroutine or after Run returns.
func (c *Controller) Screen() Screen           { return c.screen }
func (c *Controller) Tab() Tab                 { return c.tab }
func (c *Controller) Session() session.Session { return c.sess }
func (c *Controller) Error(s Slot) ErrorSlot   { return *c.slot(s) }
