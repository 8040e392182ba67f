// Package homes keeps the farm's scarce home pool stocked and makes every
// claimed home appear, to its owner only, at the shared stack coordinate.
// Authoritative home coordinates never move for projection; the rewrite
// happens inside each recipient's outbound snapshot copy.
package homes

import (
	"log"

	"farmhold/internal/config"
	"farmhold/internal/pipeline"
	"farmhold/internal/protocol"
	"farmhold/internal/stackloc"
)

// Home is the pool's view of one constructed home building.
type Home struct {
	ID    string
	Owner int64
	Coord stackloc.Coord
}

// ClaimStore persists the append-only claimed-identity set.
type ClaimStore interface {
	ClaimedIdentities() (map[int64]bool, error)
	AddClaimedIdentity(id int64) error
}

// Builder is what the pool needs from the simulation. All calls happen on the
// tick goroutine.
type Builder interface {
	Homes() []Home
	BuildHome(at stackloc.Coord) (Home, error)
	RelocateHome(id string, to stackloc.Coord)
	MapMarkers() []stackloc.Marker
	WarpHome(identity int64)
	SendPrivateNotice(identity int64, lines ...string)
}

type Auditor interface {
	Audit(kind string, identity int64, detail map[string]any)
}

// HiddenCoord is where pool homes are physically constructed: far off-map,
// so construction never needs collision resolution against real terrain.
var HiddenCoord = stackloc.Coord{X: -2000, Y: -2000}

type Config struct {
	Strategy     config.Strategy
	MinFreeHomes int
	FarmLocation string
	// SharedInterior is the one communal interior everyone shares under the
	// shared-communal-interior strategy.
	SharedInterior      string
	SharedInteriorOwner int64
	Override            *stackloc.Coord
}

type Pool struct {
	cfg   Config
	store ClaimStore
	world Builder
	log   *log.Logger
	audit Auditor

	// Mutated only from the tick goroutine.
	claimed       map[int64]bool
	prevOccupants map[int64]bool
}

func New(cfg Config, store ClaimStore, world Builder, logger *log.Logger, audit Auditor) (*Pool, error) {
	claimed, err := store.ClaimedIdentities()
	if err != nil {
		return nil, err
	}
	if cfg.MinFreeHomes <= 0 {
		cfg.MinFreeHomes = 1
	}
	return &Pool{
		cfg:           cfg,
		store:         store,
		world:         world,
		log:           logger,
		audit:         audit,
		claimed:       claimed,
		prevOccupants: make(map[int64]bool),
	}, nil
}

// Claimed reports whether identity has ever been assigned a home.
func (p *Pool) Claimed(identity int64) bool { return p.claimed[identity] }

// unclaimedCount counts homes whose nominal owner is not in the claimed set.
// An ownerless home is by definition unclaimed.
func (p *Pool) unclaimedCount() int {
	n := 0
	for _, h := range p.world.Homes() {
		if !p.claimed[h.Owner] {
			n++
		}
	}
	return n
}

// EnsureMinimumFreeHomes builds homes at the hidden coordinate until at least
// min are unclaimed. A single failed construction is logged and skipped; the
// shortfall is picked up on the next replenishment trigger.
func (p *Pool) EnsureMinimumFreeHomes(min int) {
	need := min - p.unclaimedCount()
	for i := 0; i < need; i++ {
		h, err := p.world.BuildHome(HiddenCoord)
		if err != nil {
			if p.log != nil {
				p.log.Printf("homes: build failed: %v", err)
			}
			continue
		}
		if p.audit != nil {
			p.audit.Audit("homes.built", 0, map[string]any{"home": h.ID})
		}
	}
}

// OnIdentityJoined records identity in the durable claimed set and tops the
// pool back up. Safe to repeat; the set is append-only.
func (p *Pool) OnIdentityJoined(identity int64) {
	if !p.claimed[identity] {
		p.claimed[identity] = true
		if err := p.store.AddClaimedIdentity(identity); err != nil && p.log != nil {
			p.log.Printf("homes: persist claim for %d: %v", identity, err)
		}
		if p.audit != nil {
			p.audit.Audit("homes.claimed", identity, nil)
		}
	}
	p.EnsureMinimumFreeHomes(p.cfg.MinFreeHomes)
}

// StackLocation resolves the coordinate stacked homes are shown at.
func (p *Pool) StackLocation() stackloc.Coord {
	return stackloc.Resolve(p.cfg.Override, p.world.MapMarkers(), stackloc.Fallback)
}

// RegisterOutbound installs the snapshot-rewrite handler.
func (p *Pool) RegisterOutbound(pl *pipeline.Pipeline) {
	pl.Register(protocol.TypeLocationState, p.projectHomeForRecipient)
}

// projectHomeForRecipient relocates the recipient's own home inside their
// outbound farm snapshot to the stack coordinate. Snapshots of any other
// location, and everyone else's homes, pass through unchanged.
func (p *Pool) projectHomeForRecipient(c *pipeline.Context) error {
	if p.cfg.Strategy != config.StrategyStackedHomes {
		return nil
	}
	var snap protocol.LocationStateMsg
	if err := c.Decode(&snap); err != nil {
		return err
	}
	if snap.Location != p.cfg.FarmLocation {
		return nil
	}
	recipient := c.Recipient()
	if !p.claimed[recipient] {
		return nil
	}
	at := p.StackLocation()
	changed := false
	for i := range snap.Buildings {
		if snap.Buildings[i].Owner == recipient {
			snap.Buildings[i].X = at.X
			snap.Buildings[i].Y = at.Y
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.ReplaceEncoded(snap)
}

// SweepSharedInterior diffs this tick's occupancy of the communal interior
// against the previous tick's, so entry reacts exactly once per visit.
func (p *Pool) SweepSharedInterior(occupants []int64) {
	if p.cfg.Strategy != config.StrategySharedInterior {
		return
	}
	cur := make(map[int64]bool, len(occupants))
	for _, id := range occupants {
		cur[id] = true
		if !p.prevOccupants[id] {
			p.onSharedInteriorEntered(id)
		}
	}
	p.prevOccupants = cur
}

func (p *Pool) onSharedInteriorEntered(identity int64) {
	if identity == p.cfg.SharedInteriorOwner {
		return
	}
	p.world.WarpHome(identity)
	p.world.SendPrivateNotice(identity,
		"That homestead belongs to "+p.cfg.SharedInterior+"'s designated owner.",
		"You have been sent back to your own home.")
	if p.audit != nil {
		p.audit.Audit("homes.interior_evicted", identity, nil)
	}
}

// ApplyStartupPolicy reconciles a strategy change across restarts. Under
// relocate-to-pool, claimed homes left at real coordinates by an earlier
// strategy are pulled back to the hidden pool spot.
func (p *Pool) ApplyStartupPolicy(previousStrategy config.Strategy, policy config.HomePolicy) {
	if previousStrategy != "" && previousStrategy != p.cfg.Strategy && p.log != nil {
		p.log.Printf("homes: strategy changed %s -> %s", previousStrategy, p.cfg.Strategy)
	}
	if p.cfg.Strategy != config.StrategyStackedHomes || policy != config.HomePolicyRelocateToPool {
		return
	}
	for _, h := range p.world.Homes() {
		if h.Coord != HiddenCoord {
			p.world.RelocateHome(h.ID, HiddenCoord)
			if p.log != nil {
				p.log.Printf("homes: relocated %s to the pool", h.ID)
			}
		}
	}
}
