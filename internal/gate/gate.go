// Package gate is the per-connection admission state machine. Non-host
// connections start Unauthenticated: their inbound traffic is whitelisted,
// their outbound traffic loses the two day-transition broadcasts, and the
// tick sweep drives welcome text, reminders and the eviction timeout. The
// only forward transition is Submit with the shared secret.
package gate

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"farmhold/internal/pipeline"
	"farmhold/internal/protocol"
)

// HoldingArea is the narrow interface to the external lobby that confines
// not-yet-admitted connections and excludes them from day-end voting.
type HoldingArea interface {
	RegisterUnauthenticatedPlayer(identity int64)
	UnregisterUnauthenticatedPlayer(identity int64)
	WarpFromLobby(identity int64, location string, x, y int)
	CleanupIndividualLobby(identity int64)
}

// World is what the gate needs from the simulation. All methods are safe to
// call from I/O goroutines; the world marshals them onto its tick.
type World interface {
	SendPrivateNotice(identity int64, lines ...string)
	Disconnect(identity int64, reason string)
	DayTransitionInFlight() bool
	SendPassout(identity int64)
	HomeEntrance(identity int64) (location string, x, y int)
	HasCustomizedIdentity(identity int64) bool
}

type Auditor interface {
	Audit(kind string, identity int64, detail map[string]any)
}

type Config struct {
	Secret            []byte
	MaxFailedAttempts int
	// Timeout 0 disables eviction.
	Timeout          time.Duration
	WelcomeDelay     time.Duration
	ReminderInterval time.Duration
	HostIdentity     int64
	LoginCommand     string
	HelpCommand      string
}

func (c *Config) normalize() {
	if c.LoginCommand == "" {
		c.LoginCommand = "!login"
	}
	if c.HelpCommand == "" {
		c.HelpCommand = "!help"
	}
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = 3
	}
}

type Gate struct {
	cfg     Config
	world   World
	holding HoldingArea
	log     *log.Logger
	audit   Auditor

	mu       sync.RWMutex
	sessions map[int64]*Session
}

func New(cfg Config, world World, holding HoldingArea, logger *log.Logger, audit Auditor) *Gate {
	cfg.normalize()
	return &Gate{
		cfg:      cfg,
		world:    world,
		holding:  holding,
		log:      logger,
		audit:    audit,
		sessions: make(map[int64]*Session),
	}
}

// OnConnect admits identity into the pending flow. The host is implicitly
// authenticated and never gets a session.
func (g *Gate) OnConnect(identity int64, hasCustomizedIdentity bool, now time.Time) {
	if identity == g.cfg.HostIdentity {
		return
	}
	s := newSession(identity, !hasCustomizedIdentity, now)

	g.mu.Lock()
	old := g.sessions[identity]
	g.sessions[identity] = s
	g.mu.Unlock()
	if old != nil {
		old.markRemoved()
	}

	g.holding.RegisterUnauthenticatedPlayer(identity)
	if g.audit != nil {
		g.audit.Audit("auth.session_created", identity, map[string]any{"new_identity": !hasCustomizedIdentity})
	}
}

// OnDisconnect destroys identity's session, whatever caused the disconnect.
// Idempotent: a session evicted earlier in the same tick is already gone.
func (g *Gate) OnDisconnect(identity int64) {
	if identity == g.cfg.HostIdentity {
		return
	}
	g.mu.Lock()
	s := g.sessions[identity]
	delete(g.sessions, identity)
	g.mu.Unlock()
	if s != nil {
		s.markRemoved()
	}

	g.holding.UnregisterUnauthenticatedPlayer(identity)
	g.holding.CleanupIndividualLobby(identity)
}

func (g *Gate) session(identity int64) *Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions[identity]
}

// remove pulls the session out of the map and marks it removed. Returns false
// if some other path got there first.
func (g *Gate) remove(identity int64, s *Session) bool {
	g.mu.Lock()
	if g.sessions[identity] == s {
		delete(g.sessions, identity)
	}
	g.mu.Unlock()
	return s.markRemoved()
}

// Authenticated reports whether identity may act on the shared world. The
// host always may; identities with no session have passed the gate.
func (g *Gate) Authenticated(identity int64) bool {
	if identity == g.cfg.HostIdentity {
		return true
	}
	s := g.session(identity)
	if s == nil {
		return true
	}
	return s.authenticated()
}

// Pending reports whether identity is still held at the gate.
func (g *Gate) Pending(identity int64) bool {
	s := g.session(identity)
	return s != nil && s.pending()
}

// FilterInbound decides pass/drop for one inbound message before any
// simulation logic sees it. Runs on I/O goroutines.
func (g *Gate) FilterInbound(identity int64, msgType string, raw []byte) bool {
	if identity == g.cfg.HostIdentity {
		return true
	}
	s := g.session(identity)
	if s == nil {
		// A connected identity without a session is a bug; deny by default.
		if g.log != nil {
			g.log.Printf("gate: ERROR no session for connected identity %d (%s); denying", identity, msgType)
		}
		return false
	}
	if s.authenticated() {
		return true
	}

	switch msgType {
	case protocol.TypeCharCustomize, protocol.TypeJoin, protocol.TypeDisconnect:
		return true
	case protocol.TypeChat:
		return g.chatAllowed(identity, raw)
	default:
		return false
	}
}

// chatAllowed whitelists exactly the login and help commands. Malformed chat
// payloads are disallowed, never waved through.
func (g *Gate) chatAllowed(identity int64, raw []byte) bool {
	var chat protocol.ChatMsg
	if err := json.Unmarshal(raw, &chat); err != nil {
		if g.log != nil {
			g.log.Printf("gate: bad chat payload from %d: %v", identity, err)
		}
		return false
	}
	if g.isCommand(chat.Text, g.cfg.LoginCommand) || g.isCommand(chat.Text, g.cfg.HelpCommand) {
		return true
	}
	g.world.SendPrivateNotice(identity, "This server is password protected. Say "+g.cfg.LoginCommand+" <password> to join, or "+g.cfg.HelpCommand+".")
	return false
}

func (g *Gate) isCommand(text, command string) bool {
	fields := strings.Fields(text)
	return len(fields) > 0 && strings.EqualFold(fields[0], command)
}

// RegisterOutbound installs the handlers that keep day-transition broadcasts
// away from pending recipients; delivering either would force-close an open
// character-creation screen on the client.
func (g *Gate) RegisterOutbound(p *pipeline.Pipeline) {
	suppress := func(c *pipeline.Context) error {
		if g.Pending(c.Recipient()) {
			c.Drop()
		}
		return nil
	}
	p.Register(protocol.TypeDayEnded, suppress)
	p.Register(protocol.TypeDayStarted, suppress)
}
