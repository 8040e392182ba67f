package world

import (
	"encoding/json"
	"time"

	"farmhold/internal/protocol"
)

const lobbyLocation = "Lobby"

func (w *World) handleJoin(req JoinRequest, now time.Time) {
	if len(w.players) >= w.cfg.PlayerCeiling {
		if req.Resp != nil {
			req.Resp <- JoinResponse{Rejected: "server is full"}
		}
		return
	}
	if old := w.clients[req.Identity]; old != nil && !old.closed {
		// The identity reconnected before the stale connection was reaped.
		w.handleLeave(req.Identity)
	}

	p := &Player{
		ID:       req.Identity,
		Name:     req.Name,
		Location: lobbyLocation,
	}
	if req.Identity == w.cfg.HostIdentity {
		p.Location = w.cfg.FarmLocation
	}
	w.players[req.Identity] = p
	w.clients[req.Identity] = &clientState{out: req.Out}
	w.customized.Store(req.Identity, req.Customized)

	// Entry flow: every admitted farmhand is assigned a home before it ever
	// authenticates; the gate only controls where the connection may stand.
	// The host lives in the farmhouse and draws nothing from the pool.
	if req.Identity != w.cfg.HostIdentity {
		w.assignHome(req.Identity)
	}

	if w.gate != nil {
		w.gate.OnConnect(req.Identity, req.Customized, now)
	}
	w.location(w.cfg.FarmLocation).dirty = true

	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			Identity:        req.Identity,
			FarmName:        w.cfg.FarmName,
			Day:             w.day,
			TickRateHz:      w.cfg.TickRateHz,
		}}
	}
	if w.audit != nil {
		w.audit.Audit("world.joined", req.Identity, map[string]any{"name": req.Name})
	}
}

// handleLeave destroys the connection state. Idempotent: a kicked identity
// may race its own transport-level disconnect.
func (w *World) handleLeave(identity int64) {
	c := w.clients[identity]
	if c != nil && !c.closed {
		c.closed = true
		close(c.out)
	}
	delete(w.clients, identity)
	delete(w.passoutPending, identity)
	if p := w.players[identity]; p != nil {
		delete(w.players, identity)
		w.location(p.Location).dirty = true
	}
	if w.gate != nil {
		w.gate.OnDisconnect(identity)
	}
}

func (w *World) handleCharCustomize(env InboundEnvelope) {
	var msg protocol.CharCustomizeMsg
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		if w.log != nil {
			w.log.Printf("world: bad %s from %d: %v", env.Type, env.Identity, err)
		}
		return
	}
	if msg.Name != "" {
		w.players[env.Identity].Name = msg.Name
	}
	if msg.Complete {
		w.customized.Store(env.Identity, true)
	}
}

func (w *World) handleMove(env InboundEnvelope, p *Player) {
	var msg protocol.MoveMsg
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		return
	}
	p.X, p.Y = msg.X, msg.Y
}

func (w *World) handleChat(env InboundEnvelope, p *Player) {
	var msg protocol.ChatMsg
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		return
	}
	line := p.Name + ": " + msg.Text
	for id := range w.clients {
		if w.gate == nil || w.gate.Authenticated(id) {
			w.send(id, protocol.TypeNotice, protocol.NoticeMsg{
				Type:            protocol.TypeNotice,
				ProtocolVersion: protocol.Version,
				Lines:           []string{line},
			})
		}
	}
}
