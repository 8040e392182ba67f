package world

import (
	"fmt"

	"farmhold/internal/homes"
	"farmhold/internal/protocol"
	"farmhold/internal/stackloc"
)

const homeKind = "cabin"

// maxHomes bounds pool growth; the ceiling plus slack for never-reclaimed
// homes of departed farmhands.
const maxHomesSlack = 8

// --- homes.Builder implementation. Tick goroutine only.

func (w *World) Homes() []homes.Home {
	farm := w.location(w.cfg.FarmLocation)
	out := make([]homes.Home, 0, len(farm.Buildings))
	for _, b := range farm.Buildings {
		if b.Kind != homeKind {
			continue
		}
		out = append(out, homes.Home{
			ID:    b.ID,
			Owner: b.Owner,
			Coord: stackloc.Coord{X: b.X, Y: b.Y},
		})
	}
	return out
}

func (w *World) BuildHome(at stackloc.Coord) (homes.Home, error) {
	farm := w.location(w.cfg.FarmLocation)
	count := 0
	for _, b := range farm.Buildings {
		if b.Kind == homeKind {
			count++
		}
	}
	if count >= w.cfg.PlayerCeiling+maxHomesSlack {
		return homes.Home{}, fmt.Errorf("home limit reached (%d)", count)
	}
	id := fmt.Sprintf("%s-%d", homeKind, w.nextBuildingNum.Add(1))
	b := &Building{
		ID:       id,
		Kind:     homeKind,
		X:        at.X,
		Y:        at.Y,
		Interior: id + "-interior",
	}
	farm.Buildings = append(farm.Buildings, b)
	farm.dirty = true
	return homes.Home{ID: b.ID, Coord: at}, nil
}

func (w *World) RelocateHome(id string, to stackloc.Coord) {
	farm := w.location(w.cfg.FarmLocation)
	for _, b := range farm.Buildings {
		if b.ID == id {
			b.X, b.Y = to.X, to.Y
			farm.dirty = true
			if b.Owner != 0 {
				w.homeEntrances.Store(b.Owner, entrance{location: w.cfg.FarmLocation, x: to.X, y: to.Y + 1})
			}
			return
		}
	}
}

func (w *World) MapMarkers() []stackloc.Marker { return w.cfg.Markers }

// WarpHome forces identity back to the entrance of its own home.
func (w *World) WarpHome(identity int64) {
	loc, x, y := w.HomeEntrance(identity)
	w.warpTo(identity, loc, x, y)
}

func (w *World) warpTo(identity int64, location string, x, y int) {
	p := w.players[identity]
	if p == nil {
		return
	}
	if p.Location != location {
		w.location(p.Location).dirty = true
	}
	p.Location, p.X, p.Y = location, x, y
	w.location(location).dirty = true
	w.send(identity, protocol.TypeWarp, protocol.WarpMsg{
		Type:            protocol.TypeWarp,
		ProtocolVersion: protocol.Version,
		Location:        location,
		X:               x,
		Y:               y,
	})
}

// assignHome binds identity to an unclaimed home during the entry flow. The
// claimed-identity set, not a direct link, is what makes the assignment
// durable.
func (w *World) assignHome(identity int64) {
	if w.pool == nil {
		return
	}
	farm := w.location(w.cfg.FarmLocation)
	var own, free *Building
	for _, b := range farm.Buildings {
		if b.Kind != homeKind {
			continue
		}
		if b.Owner == identity {
			own = b
			break
		}
		if free == nil && b.Owner == 0 {
			free = b
		}
	}
	if own == nil {
		if free == nil {
			// Pool ran dry (earlier build failures); replenish and retry once.
			w.pool.EnsureMinimumFreeHomes(1)
			for _, b := range farm.Buildings {
				if b.Kind == homeKind && b.Owner == 0 {
					free = b
					break
				}
			}
			if free == nil {
				if w.log != nil {
					w.log.Printf("world: no free home for identity %d", identity)
				}
				return
			}
		}
		free.Owner = identity
		own = free
		farm.dirty = true
	}
	w.homeEntrances.Store(identity, entrance{location: w.cfg.FarmLocation, x: own.X, y: own.Y + 1})
	w.pool.OnIdentityJoined(identity)
}
