package session

import (
	"context"
	"errors"
	"log"
)

const (
	// KeyToken holds the opaque auth token issued by the server.
	KeyToken = "token"

	// KeyUsername holds the canonical username echoed by the server.
	KeyUsername = "username"
)

// ErrNotFound is returned by a Backend when a key has no value.
var ErrNotFound = errors.New("session: key not found")

// Session is the persisted identity. Both fields are set, or the session is
// absent.
type Session struct {
	Token    string
	Username string
}

// Valid reports whether both fields are present. Callers must check this
// before trusting the session; the store does not enforce the pairing.
func (s Session) Valid() bool {
	return s.Token != "" && s.Username != ""
}

// Backend is the key-value persistence behind a Store.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Store exposes load/save/clear over a Backend. It never returns errors:
// backend failures are logged and read as "not logged in".
type Store struct {
	backend Backend
}

// NewStore wraps backend in a Store.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Load returns the persisted session, or the absent session if either key is
// missing or unreadable.
func (s *Store) Load(ctx context.Context) Session {
	token, err := s.backend.Get(ctx, KeyToken)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[session] load token failed: %v", err)
		}
		return Session{}
	}
	username, err := s.backend.Get(ctx, KeyUsername)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[session] load username failed: %v", err)
		}
		return Session{}
	}

	sess := Session{Token: token, Username: username}
	if !sess.Valid() {
		return Session{}
	}
	return sess
}

// Save persists token and username as two independent writes. A failure
// between them leaves a half-written session, which Load reads as absent.
func (s *Store) Save(ctx context.Context, token, username string) {
	if err := s.backend.Set(ctx, KeyToken, token); err != nil {
		log.Printf("[session] save token failed: %v", err)
	}
	if err := s.backend.Set(ctx, KeyUsername, username); err != nil {
		log.Printf("[session] save username failed: %v", err)
	}
}

// Clear removes both keys.
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Remove(ctx, KeyToken); err != nil {
		log.Printf("[session] clear token failed: %v", err)
	}
	if err := s.backend.Remove(ctx, KeyUsername); err != nil {
		log.Printf("[session] clear username failed: %v", err)
	}
}
