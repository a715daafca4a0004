package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaibshamsi/Brofessor/internal/logger"
)

// SessionRegistry holds the live conversation sessions of all users.
type SessionRegistry struct {
	log  *logger.Logger
	deps SessionDeps
	cfg  SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionRegistry(log *logger.Logger, deps SessionDeps, cfg SessionConfig) *SessionRegistry {
	return &SessionRegistry{
		log:      log.With("service", "SessionRegistry"),
		deps:     deps,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

func (r *SessionRegistry) Create(ownerID int64) *Session {
	s := NewSession(r.log, uuid.NewString(), ownerID, r.deps, r.cfg)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	r.log.Debug("Session created", "session_id", s.ID(), "owner", ownerID)
	return s
}

// Get returns the session if ownerID owns it. Sessions of other users are
// reported as not found.
func (r *SessionRegistry) Get(id string, ownerID int64) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.OwnerID() != ownerID {
		return nil, ErrNotFound
	}
	return s, nil
}

// ForOwner lists the sessions owned by ownerID.
func (r *SessionRegistry) ForOwner(ownerID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.OwnerID() == ownerID {
			out = append(out, s)
		}
	}
	return out
}

func (r *SessionRegistry) Remove(id string, ownerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.OwnerID() != ownerID {
		return ErrNotFound
	}
	s.Reset()
	delete(r.sessions, id)
	return nil
}

// Prune drops sessions with no activity since before cutoff and returns how
// many were removed. A session that is generating is never pruned.
func (r *SessionRegistry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		r.log.Info("Pruned idle sessions", "count", n)
	}
	return n
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
