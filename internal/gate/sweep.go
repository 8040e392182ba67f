package gate

import (
	"fmt"
	"time"
)

type sweepOutcome struct {
	welcome  bool
	timeout  bool
	reminder bool
}

// TickSweep runs once per simulation tick over every pending session. All
// waiting is polled here; nothing in the gate ever sleeps.
func (g *Gate) TickSweep(now time.Time) {
	g.mu.RLock()
	pending := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		pending = append(pending, s)
	}
	g.mu.RUnlock()

	for _, s := range pending {
		out := g.sweepOne(s, now)
		identity := s.identity
		if out.welcome {
			g.world.SendPrivateNotice(identity,
				"Welcome to the farm!",
				"This server is password protected.",
				fmt.Sprintf("Say %s <password> to join everyone on the farm.", g.cfg.LoginCommand),
				fmt.Sprintf("Say %s if you get stuck.", g.cfg.HelpCommand))
		}
		if out.timeout {
			// The session is already flagged removed; pull it from the map,
			// then notify, then sever. Repeated evaluation this tick finds
			// nothing left to evict.
			g.mu.Lock()
			if g.sessions[identity] == s {
				delete(g.sessions, identity)
			}
			g.mu.Unlock()
			g.world.SendPrivateNotice(identity, "Login took too long; disconnecting.")
			g.world.Disconnect(identity, "authentication timeout")
			if g.audit != nil {
				g.audit.Audit("auth.evicted", identity, map[string]any{"reason": "timeout"})
			}
			continue
		}
		if out.reminder {
			g.world.SendPrivateNotice(identity,
				fmt.Sprintf("Reminder: say %s <password> to join.", g.cfg.LoginCommand))
		}
	}
}

func (g *Gate) sweepOne(s *Session, now time.Time) sweepOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out sweepOutcome
	if s.removed || s.state != StateUnauthenticated {
		return out
	}

	// A brand-new identity still inside the appearance flow accrues no time:
	// it cannot read or send chat yet.
	if s.isNewIdentity && s.customizationComplete == nil {
		if !g.world.HasCustomizedIdentity(s.identity) {
			return out
		}
		t := now
		s.customizationComplete = &t
	}

	ref := s.joinTime
	if s.customizationComplete != nil {
		ref = *s.customizationComplete
	}
	elapsed := now.Sub(ref)

	if !s.welcomeSent && elapsed > g.cfg.WelcomeDelay {
		s.welcomeSent = true
		s.lastReminder = now
		out.welcome = true
	}

	if g.cfg.Timeout > 0 && elapsed >= g.cfg.Timeout {
		s.removed = true
		out.timeout = true
		return out
	}

	if s.welcomeSent && now.Sub(s.lastReminder) > g.cfg.ReminderInterval {
		s.lastReminder = now
		out.reminder = true
	}
	return out
}
