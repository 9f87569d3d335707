// Package session holds the bearer token for the signed-in actor and notifies
// observers when the session starts or ends.
package session

import (
	"sync"

	"go.uber.org/zap"
)

// Role identifies which side of the marketplace the actor is on.
type Role string

const (
	RolePatient  Role = "patient"
	RolePharmacy Role = "pharmacy"
	RoleAdmin    Role = "admin"
)

// Observer is called with true on login and false on logout or expiry.
type Observer func(authenticated bool)

// Session is safe for concurrent use. It implements transport.TokenSource.
type Session struct {
	mu        sync.RWMutex
	token     string
	role      Role
	observers []Observer
	logger    *zap.Logger
}

// New creates an empty (signed-out) session.
func New(logger *zap.Logger) *Session {
	return &Session{logger: logger}
}

// Token returns the current bearer token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Role returns the role of the signed-in actor.
func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Observe registers an observer. Observers run in registration order.
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Login stores the token and notifies observers if the session was signed out.
// Replacing the token of an active session does not notify.
func (s *Session) Login(token string, role Role) {
	if token == "" {
		s.Logout()
		return
	}

	s.mu.Lock()
	wasAuthenticated := s.token != ""
	s.token = token
	s.role = role
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.logger.Info("session started", zap.String("role", string(role)))

	if !wasAuthenticated {
		notify(observers, true)
	}
}

// Logout clears the token and notifies observers.
func (s *Session) Logout() {
	s.end("session ended")
}

// Expire is Logout triggered by the server rejecting the token.
func (s *Session) Expire() {
	s.end("session expired")
}

func (s *Session) end(msg string) {
	s.mu.Lock()
	wasAuthenticated := s.token != ""
	s.token = ""
	s.role = ""
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if !wasAuthenticated {
		return
	}

	s.logger.Info(msg)
	notify(observers, false)
}

func notify(observers []Observer, authenticated bool) {
	for _, o := range observers {
		o(authenticated)
	}
}
