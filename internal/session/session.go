// Package session persists the authenticated identity of the client (the
// server-issued token and canonical username) across runs. State is held in a
// key-value Backend scoped to the server origin, mirroring the browser's
// per-origin localStorage.
package session
