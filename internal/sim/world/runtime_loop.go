package world

import (
	"context"
	"time"

	"farmhold/internal/protocol"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []int64
	var pendingInbound []InboundEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingInbound = append(pendingInbound, env)
		case req := <-w.control:
			w.handleControl(req)
		case req := <-w.warp:
			w.warpTo(req.identity, req.location, req.x, req.y)
		case id := <-w.passout:
			w.deliverPassout(id)
		case <-ticker.C:
			w.step(nowUTC(), pendingJoins, pendingLeaves, pendingInbound)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInbound = pendingInbound[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// step advances the world by one tick. Exposed to tests via StepOnce; the
// ordering here is the authoritative one.
func (w *World) step(now time.Time, joins []JoinRequest, leaves []int64, inbound []InboundEnvelope) {
	for _, req := range joins {
		w.handleJoin(req, now)
	}
	for _, id := range leaves {
		w.handleLeave(id)
	}
	for _, env := range inbound {
		w.handleInbound(env)
	}

	w.tick.Add(1)

	if w.gate != nil {
		w.gate.TickSweep(now)
	}
	w.advanceDay()
	if w.pool != nil {
		w.pool.SweepSharedInterior(w.occupants(w.cfg.SharedInterior))
	}
	w.drainSideChannels()
	w.flushDirtyLocations()
}

// StepOnce advances the world a single tick with the same ordering semantics
// as Run. Intended for deterministic tests.
func (w *World) StepOnce(now time.Time, joins []JoinRequest, leaves []int64, inbound []InboundEnvelope) {
	w.step(now, joins, leaves, inbound)
}

// drainSideChannels flushes directives queued by I/O goroutines (or by the
// sweep that just ran) without waiting for the next select pass. The control
// queue is drained fully before warps and passouts so notice/kick ordering
// for one identity is preserved.
func (w *World) drainSideChannels() {
	for {
		select {
		case req := <-w.control:
			w.handleControl(req)
			continue
		default:
		}
		select {
		case req := <-w.warp:
			w.warpTo(req.identity, req.location, req.x, req.y)
		case id := <-w.passout:
			w.deliverPassout(id)
		default:
			return
		}
	}
}

func (w *World) occupants(location string) []int64 {
	var out []int64
	for id, p := range w.players {
		if p.Location == location {
			out = append(out, id)
		}
	}
	return out
}

func (w *World) handleInbound(env InboundEnvelope) {
	p := w.players[env.Identity]
	if p == nil {
		return
	}
	switch env.Type {
	case protocol.TypeCharCustomize:
		w.handleCharCustomize(env)
	case protocol.TypeMove:
		w.handleMove(env, p)
	case protocol.TypeChat:
		w.handleChat(env, p)
	case protocol.TypeDisconnect:
		w.handleLeave(env.Identity)
	}
}
