// Package session keeps per-browser state in memory: who is signed in, the
// CSRF token, a pending copy or move, and queued flash messages.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingTTL is how long a staged copy or move stays usable.
const PendingTTL = time.Hour

type Operation string

const (
	OpCopy Operation = "copy"
	OpMove Operation = "move"
)

var ErrNoSession = errors.New("session not found")

// PendingTransfer is an item staged for copy or move, waiting for the user to
// pick a destination.
type PendingTransfer struct {
	Operation  Operation
	Name       string
	SourcePath string
	CreatedAt  time.Time
}

type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
	FlashWarning FlashKind = "warning"
	FlashInfo    FlashKind = "info"
)

type Flash struct {
	Kind FlashKind `json:"type"`
	Text string    `json:"message"`
}

// Session is a snapshot; mutate through the Store.
type Session struct {
	ID            string
	Username      string
	Role          string
	Authenticated bool
	CSRFToken     string
	LastSeen      time.Time
}

type entry struct {
	Session
	pending *PendingTransfer
	flashes []Flash
}

type Store struct {
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore returns a store whose sessions expire after idle without use.
// A zero idle keeps sessions until Destroy.
func NewStore(idle time.Duration) *Store {
	return &Store{idle: idle, now: time.Now, sessions: map[string]*entry{}}
}

// SetClock replaces the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Create() Session {
	now := s.now()
	e := &entry{Session: Session{
		ID:        uuid.NewString(),
		CSRFToken: uuid.NewString(),
		LastSeen:  now,
	}}
	s.mu.Lock()
	s.sessions[e.ID] = e
	s.mu.Unlock()
	return e.Session
}

// lookup returns a live entry and refreshes its last use. Callers hold mu.
func (s *Store) lookup(id string) (*entry, bool) {
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.idle > 0 && now.Sub(e.LastSeen) > s.idle {
		delete(s.sessions, id)
		return nil, false
	}
	e.LastSeen = now
	return e, true
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, false
	}
	return e.Session, true
}

func (s *Store) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Login marks the session authenticated under a fresh ID and CSRF token.
// The old ID stops working. Queued flashes carry over.
func (s *Store) Login(id, username, role string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, ErrNoSession
	}
	delete(s.sessions, id)
	e.ID = uuid.NewString()
	e.CSRFToken = uuid.NewString()
	e.Username = username
	e.Role = role
	e.Authenticated = true
	e.pending = nil
	s.sessions[e.ID] = e
	return e.Session, nil
}

func (s *Store) SetPending(id string, p PendingTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return ErrNoSession
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	e.pending = &p
	return nil
}

// Pending returns the staged transfer. One older than PendingTTL is
// discarded and reported as absent.
func (s *Store) Pending(id string) (PendingTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok || e.pending == nil {
		return PendingTransfer{}, false
	}
	if s.now().Sub(e.pending.CreatedAt) > PendingTTL {
		e.pending = nil
		return PendingTransfer{}, false
	}
	return *e.pending, true
}

func (s *Store) ClearPending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.lookup(id); ok {
		e.pending = nil
	}
}

func (s *Store) AddFlash(id string, f Flash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.lookup(id); ok {
		e.flashes = append(e.flashes, f)
	}
}

// TakeFlashes returns queued messages in order and empties the queue.
func (s *Store) TakeFlashes(id string) []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return nil
	}
	out := e.flashes
	e.flashes = nil
	return out
}

// Prune drops idle sessions and returns how many remain.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle > 0 {
		now := s.now()
		for id, e := range s.sessions {
			if now.Sub(e.LastSeen) > s.idle {
				delete(s.sessions, id)
			}
		}
	}
	return len(s.sessions)
}
