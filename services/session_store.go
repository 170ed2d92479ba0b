package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/anatech/leadscout/shared"
)

// SessionTokenBytes is the entropy of an issued bearer token.
const SessionTokenBytes = 32

// SessionStore maps opaque bearer tokens to user IDs.
type SessionStore interface {
	Issue(ctx context.Context, userID string) (string, error)
	// Validate returns shared.ErrUnauthenticated for unknown, expired or blank tokens.
	Validate(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

func newSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type memorySession struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mutex    sync.Mutex
	sessions map[string]memorySession
	ttl      time.Duration
	now      func() time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *MemorySessionStore) SetClock(now func() time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
}

func (s *MemorySessionStore) Issue(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", shared.NewValidationError("MemorySessionStore", "Issue", "user id is required")
	}
	token, err := newSessionToken()
	if err != nil {
		return "", shared.WrapError(err, shared.ErrorCategoryInternal, "TOKEN_GENERATION", "MemorySessionStore", "Issue")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions[token] = memorySession{userID: userID, expiresAt: s.now().Add(s.ttl)}
	return token, nil
}

func (s *MemorySessionStore) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", shared.NewUnauthenticatedError("Validate")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return "", shared.NewUnauthenticatedError("Validate")
	}
	if !s.now().Before(session.expiresAt) {
		delete(s.sessions, token)
		return "", shared.NewUnauthenticatedError("Validate")
	}
	return session.userID, nil
}

func (s *MemorySessionStore) Revoke(ctx context.Context, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemorySessionStore) RevokeAll(ctx context.Context, userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for token, session := range s.sessions {
		if session.userID == userID {
			delete(s.sessions, token)
		}
	}
	return nil
}

func (s *MemorySessionStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
