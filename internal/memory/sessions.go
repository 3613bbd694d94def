package memory

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"swap-assistant/internal/config"
	"swap-assistant/internal/helper"
)

type session struct {
	conversation *Conversation
	lastSeen     time.Time
}

// Store hands out one Conversation per session id. Sessions idle for longer
// than the TTL are dropped on the next access, and once MaxSessions are open
// the least recently seen one makes room for a new session.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	cfg      config.MemoryConfig
	count    TokenCounter
	now      func() time.Time
}

func NewStore(cfg config.MemoryConfig, count TokenCounter) *Store {
	return &Store{
		sessions: make(map[string]*session),
		cfg:      cfg,
		count:    count,
		now:      time.Now,
	}
}

// Get returns the conversation for id, creating a session when id is empty
// or unknown. The returned id is the one the caller must send next time.
func (s *Store) Get(id string) (string, *Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	if sess, ok := s.sessions[id]; ok && id != "" {
		sess.lastSeen = now
		return id, sess.conversation, nil
	}

	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldest()
	}

	newID, err := helper.GenerateUUID()
	if err != nil {
		return "", nil, err
	}
	sess := &session{
		conversation: NewConversation(s.cfg.MaxTurns, s.cfg.MaxTokens, s.count),
		lastSeen:     now,
	}
	s.sessions[newID] = sess
	log.Debug().Str("session_id", newID).Msg("Started session")
	return newID, sess.conversation, nil
}

// End discards the session's memory. It reports whether the session existed.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) evictOldest() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, sess := range s.sessions {
		if oldestID == "" || sess.lastSeen.Before(oldest) {
			oldestID, oldest = id, sess.lastSeen
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		log.Debug().Str("session_id", oldestID).Msg("Evicted session")
	}
}

func (s *Store) sweep(now time.Time) {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.cfg.SessionTTL {
			delete(s.sessions, id)
		}
	}
}
