package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"farmhold/internal/gate"
	"farmhold/internal/persistence/store"
	"farmhold/internal/protocol"
	"farmhold/internal/sim/world"
)

type Server struct {
	world *world.World
	gate  *gate.Gate
	store *store.Store
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, g *gate.Gate, st *store.Store, logger *log.Logger) *Server {
	return &Server{
		world: w,
		gate:  g,
		store: st,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		identity, out := s.handshake(conn)
		if identity == 0 {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. A closed out channel is the world severing us.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
							time.Now().Add(time.Second))
						cancel()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. The gate filters every inbound message here, before
		// anything reaches the simulation.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if !s.gate.FilterInbound(identity, base.Type, msg) {
				continue
			}
			if base.Type == protocol.TypeChat && !s.gate.Authenticated(identity) {
				// A whitelisted pre-auth chat line is a gate command, not
				// simulation traffic.
				var chat protocol.ChatMsg
				if err := json.Unmarshal(msg, &chat); err == nil {
					s.gate.HandleChatCommand(identity, chat.Text)
				}
				continue
			}
			s.world.Inbox() <- world.InboundEnvelope{Identity: identity, Type: base.Type, Raw: msg}
		}

		// Cleanup.
		s.world.Leave() <- identity
	}
}

func (s *Server) handshake(conn *websocket.Conn) (identity int64, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeJoin {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected JOIN"),
			time.Now().Add(time.Second))
		return 0, nil
	}
	var join protocol.JoinMsg
	if err := json.Unmarshal(msg, &join); err != nil {
		return 0, nil
	}
	if join.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"),
			time.Now().Add(time.Second))
		return 0, nil
	}
	if join.Name == "" {
		join.Name = "farmhand"
	}

	id, token, customized, err := s.resolveIdentity(join)
	if err != nil {
		s.log.Printf("ws: resolve identity: %v", err)
		return 0, nil
	}

	out = make(chan []byte, 64)
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Identity:   id,
		Name:       join.Name,
		Customized: customized,
		Out:        out,
		Resp:       respCh,
	}
	resp := <-respCh
	if resp.Rejected != "" {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, resp.Rejected),
			time.Now().Add(time.Second))
		return 0, nil
	}

	welcome := resp.Welcome
	welcome.IdentityToken = token
	if err := writeJSON(conn, welcome); err != nil {
		s.world.Leave() <- id
		return 0, nil
	}
	return id, out
}

// resolveIdentity maps a reconnect token to its persistent identity, or mints
// a fresh identity+token pair. A token the store has seen is an identity that
// already finished character customization once.
func (s *Server) resolveIdentity(join protocol.JoinMsg) (int64, string, bool, error) {
	token := strings.TrimSpace(join.IdentityToken)
	if token != "" {
		id, ok, err := s.store.IdentityForToken(token)
		if err != nil {
			return 0, "", false, err
		}
		if ok {
			return id, token, true, nil
		}
	}
	token = uuid.NewString()
	id, err := s.store.AllocateIdentity(token)
	if err != nil {
		return 0, "", false, err
	}
	return id, token, false, nil
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
