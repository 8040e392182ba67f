// Package world is the single shared authoritative farm simulation. One
// goroutine owns all state; connections talk to it over channels, and every
// outbound payload leaves through the interception pipeline so that each
// recipient can be shown a different copy of the same world.
package world

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"farmhold/internal/gate"
	"farmhold/internal/homes"
	"farmhold/internal/pipeline"
	"farmhold/internal/protocol"
	"farmhold/internal/stackloc"
)

type Config struct {
	TickRateHz     int
	DayLengthTicks int
	// A day transition stays in flight for this many ticks between the
	// day-ended and day-started broadcasts.
	TransitionTicks int

	FarmName     string
	FarmLocation string
	// SharedInterior is the communal interior swept for uninvited occupants.
	SharedInterior      string
	SharedInteriorOwner int64

	HostIdentity  int64
	PlayerCeiling int

	// Annotation-layer markers found in the shared map, fed to the stack
	// location resolver.
	Markers []stackloc.Marker

	// FarmEntrance is where identities without an assigned home land.
	FarmEntranceX int
	FarmEntranceY int
}

func (c *Config) normalize() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.DayLengthTicks <= 0 {
		c.DayLengthTicks = 6000
	}
	if c.TransitionTicks <= 0 {
		c.TransitionTicks = 20
	}
	if c.FarmName == "" {
		c.FarmName = "Farm"
	}
	if c.FarmLocation == "" {
		c.FarmLocation = "Farm"
	}
	if c.SharedInterior == "" {
		c.SharedInterior = "FarmHouse"
	}
	if c.HostIdentity == 0 {
		c.HostIdentity = 1
	}
	if c.PlayerCeiling <= 0 {
		c.PlayerCeiling = 8
	}
}

type Player struct {
	ID       int64
	Name     string
	Location string
	X, Y     int
}

type Building struct {
	ID       string
	Kind     string
	Owner    int64
	X, Y     int
	Interior string
}

type Location struct {
	Name      string
	Buildings []*Building
	dirty     bool
}

type JoinRequest struct {
	Identity   int64
	Name       string
	Customized bool
	Out        chan []byte
	Resp       chan JoinResponse
}

type JoinResponse struct {
	Welcome  protocol.WelcomeMsg
	Rejected string
}

type InboundEnvelope struct {
	Identity int64
	Type     string
	Raw      []byte
}

type clientState struct {
	out    chan []byte
	closed bool
}

// controlReq is one queued per-identity directive from an I/O goroutine.
// Notices and kicks share this queue so their relative order survives: a
// reason notice queued before a kick is always delivered first.
type controlReq struct {
	identity int64
	lines    []string
	kick     bool
	reason   string
}

type warpReq struct {
	identity int64
	location string
	x, y     int
}

type Auditor interface {
	Audit(kind string, identity int64, detail map[string]any)
}

// World state is owned by the Run goroutine. The few fields read from I/O
// goroutines (customized set, home entrances, transition flag) are mirrored
// into thread-safe structures.
type World struct {
	cfg   Config
	log   *log.Logger
	audit Auditor

	pipe *pipeline.Pipeline
	gate *gate.Gate
	pool *homes.Pool

	tick atomic.Uint64
	day  int

	dayTransition   atomic.Bool
	transitionEnds  uint64
	nextBuildingNum atomic.Uint64

	players   map[int64]*Player
	clients   map[int64]*clientState
	locations map[string]*Location

	// Identities admitted mid-transition as passouts; warped home when the
	// next day starts.
	passoutPending map[int64]bool

	// Mirrors readable off-thread.
	customized    sync.Map // int64 -> bool
	homeEntrances sync.Map // int64 -> entrance

	inbox   chan InboundEnvelope
	join    chan JoinRequest
	leave   chan int64
	control chan controlReq
	warp    chan warpReq
	passout chan int64
	stop    chan struct{}
}

type entrance struct {
	location string
	x, y     int
}

func New(cfg Config, pipe *pipeline.Pipeline, logger *log.Logger, audit Auditor) *World {
	cfg.normalize()
	w := &World{
		cfg:            cfg,
		log:            logger,
		audit:          audit,
		pipe:           pipe,
		day:            1,
		players:        make(map[int64]*Player),
		clients:        make(map[int64]*clientState),
		locations:      make(map[string]*Location),
		passoutPending: make(map[int64]bool),
		inbox:          make(chan InboundEnvelope, 256),
		join:           make(chan JoinRequest, 16),
		leave:          make(chan int64, 16),
		control:        make(chan controlReq, 256),
		warp:           make(chan warpReq, 16),
		passout:        make(chan int64, 16),
		stop:           make(chan struct{}),
	}
	w.locations[cfg.FarmLocation] = &Location{Name: cfg.FarmLocation}
	w.locations[cfg.SharedInterior] = &Location{Name: cfg.SharedInterior}
	return w
}

// AttachGate and AttachPool close the wiring loop: both collaborators need a
// World reference, so they are bound after construction.
func (w *World) AttachGate(g *gate.Gate) { w.gate = g }
func (w *World) AttachPool(p *homes.Pool) {
	w.pool = p
	p.RegisterOutbound(w.pipe)
}

func (w *World) Inbox() chan<- InboundEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Leave() chan<- int64           { return w.leave }

func (w *World) Tick() uint64 { return w.tick.Load() }
func (w *World) Day() int     { return w.day }

func (w *World) TickRateHz() int { return w.cfg.TickRateHz }

// Normalized config accessors; collaborators derive their location names and
// the host identity from here instead of repeating the literals.
func (w *World) FarmLocation() string   { return w.cfg.FarmLocation }
func (w *World) SharedInterior() string { return w.cfg.SharedInterior }
func (w *World) HostIdentity() int64    { return w.cfg.HostIdentity }

func (w *World) location(name string) *Location {
	loc := w.locations[name]
	if loc == nil {
		loc = &Location{Name: name}
		w.locations[name] = loc
	}
	return loc
}

func nowUTC() time.Time { return time.Now().UTC() }
