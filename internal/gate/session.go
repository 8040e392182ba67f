package gate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
)

// Session is the admission state for one pending connection. Every field
// mutation happens under mu; the lock is what makes "compare secret and
// transition" atomic against a concurrent timeout eviction of the same
// session.
type Session struct {
	mu sync.Mutex

	identity int64
	state    State
	removed  bool

	failedAttempts int
	joinTime       time.Time
	isNewIdentity  bool
	welcomeSent    bool
	lastReminder   time.Time

	// Set the tick the appearance/naming flow finishes. While nil for a new
	// identity, no auth time accrues: the client cannot use chat yet.
	customizationComplete *time.Time

	// Pre-auth chat is rate limited; this is brute-force hygiene, not part of
	// the attempt ceiling.
	chatLimiter *rate.Limiter
}

func newSession(identity int64, isNewIdentity bool, now time.Time) *Session {
	return &Session{
		identity:      identity,
		joinTime:      now,
		isNewIdentity: isNewIdentity,
		chatLimiter:   rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// markRemoved flags the session as destroyed. Idempotent; returns false if it
// was already removed.
func (s *Session) markRemoved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return false
	}
	s.removed = true
	return true
}

func (s *Session) authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated
}

func (s *Session) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateUnauthenticated && !s.removed
}
