package session

import (
	"sync"
	"time"

	"github.com/kjannette/p2p-ledger/internal/models"
)

// Session is an in-progress trade entry for one owner.
type Session struct {
	OwnerID   int64
	Step      int
	Draft     Draft
	Pending   *models.TradeRecord // built but not yet durably saved
	UpdatedAt time.Time
}

// Store holds at most one session per owner, in memory only. Idle sessions
// expire after ttl unless they carry a pending record.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]Session
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[int64]Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *Store) Get(owner int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[owner]
	if !ok {
		return Session{}, false
	}
	if s.expired(sess) {
		delete(s.sessions, owner)
		return Session{}, false
	}
	return sess, true
}

// Put stores sess, replacing any session the owner already had.
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = s.now()
	s.sessions[sess.OwnerID] = sess
}

// Delete removes the owner's session and reports whether one existed.
func (s *Store) Delete(owner int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[owner]
	delete(s.sessions, owner)
	return ok
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for owner, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, owner)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) expired(sess Session) bool {
	if s.ttl <= 0 || sess.Pending != nil {
		return false
	}
	return s.now().Sub(sess.UpdatedAt) > s.ttl
}
