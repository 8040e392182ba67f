package gate

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

type SubmitResult int

const (
	SubmitOK SubmitResult = iota
	SubmitAlreadyAuthenticated
	SubmitWrong
	SubmitEvicted
	SubmitNoSession
)

// Submit checks secret for identity. The comparison is constant-time; the
// state transition happens under the session lock so a concurrent timeout
// eviction either wins cleanly or loses cleanly.
func (g *Gate) Submit(identity int64, secret string) (SubmitResult, int) {
	s := g.session(identity)
	if s == nil {
		if g.log != nil {
			g.log.Printf("gate: ERROR submit from identity %d with no session", identity)
		}
		return SubmitNoSession, 0
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return SubmitNoSession, 0
	}
	if s.state == StateAuthenticated {
		s.mu.Unlock()
		g.world.SendPrivateNotice(identity, "You are already logged in.")
		return SubmitAlreadyAuthenticated, 0
	}

	if subtle.ConstantTimeCompare([]byte(secret), g.cfg.Secret) == 1 {
		s.state = StateAuthenticated
		s.mu.Unlock()
		g.admit(identity)
		return SubmitOK, 0
	}

	s.failedAttempts++
	attempts := s.failedAttempts
	s.mu.Unlock()

	if g.audit != nil {
		g.audit.Audit("auth.failed_attempt", identity, map[string]any{"attempts": attempts})
	}
	if attempts >= g.cfg.MaxFailedAttempts {
		if g.remove(identity, s) {
			g.world.Disconnect(identity, "too many attempts")
			if g.audit != nil {
				g.audit.Audit("auth.evicted", identity, map[string]any{"reason": "too many attempts"})
			}
		}
		return SubmitEvicted, 0
	}
	remaining := g.cfg.MaxFailedAttempts - attempts
	g.world.SendPrivateNotice(identity, fmt.Sprintf("Wrong password. %d attempt(s) remaining.", remaining))
	return SubmitWrong, remaining
}

// admit hands a freshly authenticated identity off to the world: out of the
// lobby, then either into the in-flight day transition or straight home.
func (g *Gate) admit(identity int64) {
	g.holding.UnregisterUnauthenticatedPlayer(identity)
	if g.world.DayTransitionInFlight() {
		// Joining mid-transition as a passout keeps the client in sync with
		// the day change instead of desyncing.
		g.world.SendPassout(identity)
	} else {
		location, x, y := g.world.HomeEntrance(identity)
		g.holding.WarpFromLobby(identity, location, x, y)
	}
	g.world.SendPrivateNotice(identity, "Welcome! You are logged in.")
	if g.audit != nil {
		g.audit.Audit("auth.succeeded", identity, nil)
	}
	if g.log != nil {
		g.log.Printf("gate: identity %d authenticated", identity)
	}
}

// HandleChatCommand processes a whitelisted chat line from a pending
// identity. FilterInbound has already vetted it; anything that is not the
// login or help command is ignored here.
func (g *Gate) HandleChatCommand(identity int64, text string) {
	s := g.session(identity)
	if s == nil {
		return
	}
	if !s.chatLimiter.Allow() {
		return
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	switch {
	case strings.EqualFold(fields[0], g.cfg.LoginCommand):
		secret := ""
		if len(fields) > 1 {
			secret = strings.Join(fields[1:], " ")
		}
		g.Submit(identity, secret)
	case strings.EqualFold(fields[0], g.cfg.HelpCommand):
		g.world.SendPrivateNotice(identity,
			"This farm requires a password.",
			"Say "+g.cfg.LoginCommand+" <password> to join.",
			"You will be disconnected if you wait too long.")
	}
}
