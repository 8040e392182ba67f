package world

import (
	"encoding/json"

	"farmhold/internal/pipeline"
	"farmhold/internal/protocol"
)

// send routes one outbound payload to a single recipient through the
// interception pipeline. Tick goroutine only.
func (w *World) send(identity int64, msgType string, v any) {
	c := w.clients[identity]
	if c == nil || c.closed {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		if w.log != nil {
			w.log.Printf("world: marshal %s for %d: %v", msgType, identity, err)
		}
		return
	}
	final, deliver := w.pipe.Dispatch(identity, pipeline.Message{Type: msgType, Raw: raw})
	if !deliver {
		return
	}
	select {
	case c.out <- final.Raw:
	default:
		// Slow consumer: drop rather than stall the tick.
		if w.log != nil {
			w.log.Printf("world: dropped %s for %d (queue full)", msgType, identity)
		}
	}
}

// broadcast dispatches per recipient; each copy runs the pipeline separately
// so projection and suppression stay per-connection.
func (w *World) broadcast(msgType string, v any) {
	for id := range w.clients {
		w.send(id, msgType, v)
	}
}

func (w *World) handleControl(req controlReq) {
	if len(req.lines) > 0 {
		w.send(req.identity, protocol.TypeNotice, protocol.NoticeMsg{
			Type:            protocol.TypeNotice,
			ProtocolVersion: protocol.Version,
			Lines:           req.lines,
		})
	}
	if req.kick {
		w.handleKick(req.identity, req.reason)
	}
}

// deliverPassout joins an identity into the day transition. The warp home is
// deferred to day start; if the transition already ended before this drained,
// the identity goes straight home instead.
func (w *World) deliverPassout(identity int64) {
	if !w.dayTransition.Load() {
		loc, x, y := w.HomeEntrance(identity)
		w.warpTo(identity, loc, x, y)
		return
	}
	w.passoutPending[identity] = true
	w.send(identity, protocol.TypePassout, protocol.PassoutMsg{
		Type:            protocol.TypePassout,
		ProtocolVersion: protocol.Version,
		Day:             w.day,
	})
}

// handleKick sends the human-readable reason line first, then severs.
func (w *World) handleKick(identity int64, reason string) {
	c := w.clients[identity]
	if c == nil || c.closed {
		return
	}
	w.send(identity, protocol.TypeKick, protocol.KickMsg{
		Type:            protocol.TypeKick,
		ProtocolVersion: protocol.Version,
		Reason:          reason,
	})
	w.handleLeave(identity)
	if w.audit != nil {
		w.audit.Audit("world.kicked", identity, map[string]any{"reason": reason})
	}
}

// --- gate.World implementation. Safe from any goroutine: each call is either
// a channel push or a read of an off-thread mirror.

func (w *World) SendPrivateNotice(identity int64, lines ...string) {
	w.pushControl(controlReq{identity: identity, lines: lines})
}

func (w *World) Disconnect(identity int64, reason string) {
	w.pushControl(controlReq{identity: identity, kick: true, reason: reason})
}

func (w *World) pushControl(req controlReq) {
	select {
	case w.control <- req:
	default:
		if w.log != nil {
			w.log.Printf("world: control queue full, dropped directive for %d", req.identity)
		}
	}
}

func (w *World) DayTransitionInFlight() bool { return w.dayTransition.Load() }

func (w *World) requestWarp(identity int64, location string, x, y int) {
	select {
	case w.warp <- warpReq{identity: identity, location: location, x: x, y: y}:
	default:
		if w.log != nil {
			w.log.Printf("world: warp queue full, dropped warp for %d", identity)
		}
	}
}

func (w *World) SendPassout(identity int64) {
	select {
	case w.passout <- identity:
	default:
	}
}

func (w *World) HomeEntrance(identity int64) (string, int, int) {
	if v, ok := w.homeEntrances.Load(identity); ok {
		e := v.(entrance)
		return e.location, e.x, e.y
	}
	return w.cfg.FarmLocation, w.cfg.FarmEntranceX, w.cfg.FarmEntranceY
}

func (w *World) HasCustomizedIdentity(identity int64) bool {
	v, ok := w.customized.Load(identity)
	return ok && v.(bool)
}
