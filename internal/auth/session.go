// Package auth implements the credential lifecycle core: the relayed
// browser OAuth flow, the client-credentials flow, token validation and
// refresh decisioning, and the orchestrator that ties them together.
package auth

import (
	"sync"

	"github.com/Anneragh/ui-development-kit-sub001/internal/environments"
)

// Session is the current authenticated client configuration: which
// environment is connected, where its API lives, and the bearer token to
// present.
type Session struct {
	Environment string
	BaseURL     string
	Token       string
	Mode        environments.AuthMode
}

// SessionHandle holds the process-wide active session. There is at most one
// active session per process regardless of how many environments are
// registered. Reads always observe a complete session, never a torn one.
type SessionHandle struct {
	mu      sync.RWMutex
	current *Session
}

// NewSessionHandle returns an empty handle.
func NewSessionHandle() *SessionHandle {
	return &SessionHandle{}
}

// Set replaces the active session whole.
func (h *SessionHandle) Set(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = &s
}

// Clear drops the active session. Stored credentials are untouched.
func (h *SessionHandle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = nil
}

// Current returns a copy of the active session, if any.
func (h *SessionHandle) Current() (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.current == nil {
		return Session{}, false
	}

	return *h.current, true
}
