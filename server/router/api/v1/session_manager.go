package v1

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"

	coacherr "github.com/asterhq/aster/server/internal/errors"
)

// DefaultSessionTTL bounds how long a minted session credential stays valid
// before its first use.
const DefaultSessionTTL = 2 * time.Minute

// PendingSession is a one-shot credential handed to a client that wants to
// open a conversation. It is consumed on first use.
type PendingSession struct {
	UserID       int32
	SessionToken string
	ExpiresAt    time.Time
}

// SessionManager mints and consumes pending conversation sessions. Consuming
// is one-shot: a session ID is removed from the map whether or not the token
// matched, so a credential can never be replayed.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*PendingSession
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager creates a session manager with the given TTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: make(map[string]*PendingSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateSession mints a new pending session for the user and returns its ID
// and token.
func (m *SessionManager) CreateSession(userID int32) (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID := randomToken(16)
	sessionToken := randomToken(32)
	m.sessions[sessionID] = &PendingSession{
		UserID:       userID,
		SessionToken: sessionToken,
		ExpiresAt:    m.now().Add(m.ttl),
	}
	return sessionID, sessionToken
}

// ConsumeSession validates and removes a pending session. It fails on unknown
// ID, wrong token, or expiry; in every case the session is gone afterwards.
func (m *SessionManager) ConsumeSession(sessionID, token string) (*PendingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	if !ok {
		return nil, coacherr.Unauthorized("invalid or expired session")
	}
	if subtle.ConstantTimeCompare([]byte(record.SessionToken), []byte(token)) != 1 {
		return nil, coacherr.Unauthorized("invalid or expired session")
	}
	if m.now().After(record.ExpiresAt) {
		return nil, coacherr.Unauthorized("session expired")
	}
	return record, nil
}

// TTL returns the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
