package world

import "farmhold/internal/protocol"

// advanceDay drives the day cycle. A transition stays in flight for
// TransitionTicks between the two broadcasts; the gate suppresses both for
// recipients still held at the gate.
func (w *World) advanceDay() {
	tick := w.tick.Load()

	if w.dayTransition.Load() {
		if tick >= w.transitionEnds {
			w.day++
			w.dayTransition.Store(false)
			w.broadcast(protocol.TypeDayStarted, protocol.DayStartedMsg{
				Type:            protocol.TypeDayStarted,
				ProtocolVersion: protocol.Version,
				Day:             w.day,
			})
			// Passout joiners wake up at home with everyone else.
			for id := range w.passoutPending {
				loc, x, y := w.HomeEntrance(id)
				w.warpTo(id, loc, x, y)
			}
			clear(w.passoutPending)
			if w.audit != nil {
				w.audit.Audit("world.day_started", 0, map[string]any{"day": w.day})
			}
		}
		return
	}

	if tick%uint64(w.cfg.DayLengthTicks) == 0 {
		w.dayTransition.Store(true)
		w.transitionEnds = tick + uint64(w.cfg.TransitionTicks)
		w.broadcast(protocol.TypeDayEnded, protocol.DayEndedMsg{
			Type:            protocol.TypeDayEnded,
			ProtocolVersion: protocol.Version,
			Day:             w.day,
		})
	}
}

// flushDirtyLocations sends a fresh snapshot of every changed location to all
// connections. Each recipient's copy goes through the pipeline individually,
// which is where per-recipient home projection happens.
func (w *World) flushDirtyLocations() {
	for _, loc := range w.locations {
		if !loc.dirty {
			continue
		}
		loc.dirty = false
		snap := w.snapshot(loc)
		w.broadcast(protocol.TypeLocationState, snap)
	}
}

func (w *World) snapshot(loc *Location) protocol.LocationStateMsg {
	msg := protocol.LocationStateMsg{
		Type:            protocol.TypeLocationState,
		ProtocolVersion: protocol.Version,
		Location:        loc.Name,
		Occupants:       w.occupants(loc.Name),
	}
	for _, b := range loc.Buildings {
		msg.Buildings = append(msg.Buildings, protocol.Building{
			ID:       b.ID,
			Kind:     b.Kind,
			Owner:    b.Owner,
			X:        b.X,
			Y:        b.Y,
			Interior: b.Interior,
		})
	}
	return msg
}
