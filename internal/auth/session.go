package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "admin_session_token"
const sessionTTL = time.Hour

type session struct {
	expiresAt time.Time
}

var sessionsMu sync.Mutex
var sessions = make(map[string]session)

func issueSession() string {
	token := uuid.New().String()
	sessionsMu.Lock()
	sessions[token] = session{expiresAt: time.Now().Add(sessionTTL)}
	sessionsMu.Unlock()
	return token
}

func validSession(token string) bool {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	s, ok := sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(s.expiresAt) {
		delete(sessions, token)
		return false
	}
	return true
}

func revokeSession(token string) {
	sessionsMu.Lock()
	delete(sessions, token)
	sessionsMu.Unlock()
}
