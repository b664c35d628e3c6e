// Package memory keeps conversation context for the lifetime of the process.
package memory

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

var ErrEmptyTurn = errors.New("turn has no fragments")

// Session is the ordered, append-only log of turns for one conversation plus the
// most recent successful species identification.
//
// Two locks are involved: turnMu serialises whole pipeline turns (held by the
// caller via Lock/Unlock), mu guards the log itself.
type Session struct {
	id        string
	createdAt time.Time

	turnMu sync.Mutex

	mu        sync.RWMutex
	turns     []ports.Turn
	lastGuess *ports.SpeciesGuess
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	return &Session{id: uuid.NewString(), createdAt: time.Now()}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Lock acquires exclusive use of the session for one pipeline turn.
func (s *Session) Lock() { s.turnMu.Lock() }

// Unlock releases the turn lock.
func (s *Session) Unlock() { s.turnMu.Unlock() }

// Append adds a turn to the end of the log. Missing ids and timestamps are filled in.
func (s *Session) Append(turn ports.Turn) error {
	if len(turn.Fragments) == 0 {
		return ErrEmptyTurn
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	turn.Fragments = slices.Clone(turn.Fragments)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

// Snapshot returns a copy of the full log in conversational order.
func (s *Session) Snapshot() []ports.Turn {
	return s.Window(0)
}

// Window returns a copy of the last k turns; k <= 0 returns every turn.
func (s *Session) Window(k int) []ports.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns
	if k > 0 && k < len(turns) {
		turns = turns[len(turns)-k:]
	}
	out := make([]ports.Turn, len(turns))
	for i, t := range turns {
		t.Fragments = slices.Clone(t.Fragments)
		out[i] = t
	}
	return out
}

// Len returns the number of turns in the log.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// LastGuess returns the most recent successful identification, if any.
func (s *Session) LastGuess() (ports.SpeciesGuess, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastGuess == nil {
		return ports.SpeciesGuess{}, false
	}
	g := *s.lastGuess
	g.VisibleTraits = slices.Clone(g.VisibleTraits)
	return g, true
}

// SetLastGuess replaces the stored identification.
func (s *Session) SetLastGuess(g ports.SpeciesGuess) {
	g.VisibleTraits = slices.Clone(g.VisibleTraits)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGuess = &g
}
