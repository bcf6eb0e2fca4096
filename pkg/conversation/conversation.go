// Package conversation keeps short-lived per-sender chat history in memory.
//
// Threads expire lazily: nothing sweeps in the background, an idle thread is
// discarded the next time its sender is looked up. History is bounded to a
// fixed number of most recent turns.
package conversation

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flamefinish/stockbot/internal/observability"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultMaxTurns = 20
)

// Turn roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
	RoleAbort      = "abort"
)

// Turn is a single conversation entry.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type thread struct {
	turns      []Turn
	lastActive time.Time
}

// Store holds conversation threads keyed by sender identity.
type Store struct {
	mu       sync.Mutex
	threads  map[string]*thread
	ttl      time.Duration
	maxTurns int

	// now is swappable in tests.
	now func() time.Time
}

// NewStore creates a conversation store. Zero values select the defaults.
func NewStore(ttl time.Duration, maxTurns int) *Store {
	observability.EnsureRegistered()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	return &Store{
		threads:  make(map[string]*thread),
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// History returns a copy of the sender's turns, oldest first. An idle thread
// is discarded here and an empty history returned.
func (s *Store) History(sender string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.lookup(sender)
	if th == nil {
		return nil
	}

	history := make([]Turn, len(th.turns))
	copy(history, th.turns)
	return history
}

// Append adds turns to the sender's thread, creating it if needed. Timestamps
// are assigned here and are strictly increasing within a thread.
func (s *Store) Append(sender string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.lookup(sender)
	if th == nil {
		th = &thread{}
		s.threads[sender] = th
		observability.SetActiveConversations(len(s.threads))
	}

	last := time.Time{}
	if n := len(th.turns); n > 0 {
		last = th.turns[n-1].Timestamp
	}

	for _, turn := range turns {
		ts := s.now()
		if !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
		turn.Timestamp = ts
		last = ts
		th.turns = append(th.turns, turn)
	}
	th.lastActive = s.now()

	if excess := len(th.turns) - s.maxTurns; excess > 0 {
		// A tool result must not lead the history without its call; widen
		// the cut past any results the trim would orphan.
		for excess < len(th.turns) && th.turns[excess].Role == RoleToolResult {
			excess++
		}
		th.turns = append(th.turns[:0:0], th.turns[excess:]...)
		observability.RecordConversationTrimmed(excess)

		log.Debug().
			Str("sender", sender).
			Int("dropped", excess).
			Msg("Conversation history trimmed")
	}
}

// Reset discards the sender's thread, if any.
func (s *Store) Reset(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[sender]; exists {
		delete(s.threads, sender)
		observability.SetActiveConversations(len(s.threads))
	}
}

// ActiveCount reports the number of threads that have not passed the idle
// window. Expired threads encountered during the scan are discarded.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	for sender, th := range s.threads {
		if th.lastActive.Before(cutoff) {
			delete(s.threads, sender)
			observability.RecordConversationExpired()
		}
	}
	observability.SetActiveConversations(len(s.threads))
	return len(s.threads)
}

// lookup returns the sender's live thread, discarding it first if the idle
// window has passed. Callers must hold s.mu.
func (s *Store) lookup(sender string) *thread {
	th, exists := s.threads[sender]
	if !exists {
		return nil
	}

	if th.lastActive.Before(s.now().Add(-s.ttl)) {
		delete(s.threads, sender)
		observability.RecordConversationExpired()
		observability.SetActiveConversations(len(s.threads))

		log.Debug().
			Str("sender", sender).
			Time("last_active", th.lastActive).
			Msg("Conversation expired")
		return nil
	}
	return th
}
