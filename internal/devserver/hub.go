package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/wire"
)

const writeTimeout = 5 * time.Second

type peer struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
}

// hub fans envelopes out to every connected push-channel client.
type hub struct {
	mu    sync.Mutex
	peers map[uint64]*peer
	next  uint64
}

func newHub() *hub {
	return &hub{peers: make(map[uint64]*peer)}
}

func (h *hub) add(c *websocket.Conn) *peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	p := &peer{id: h.next, conn: c, send: make(chan []byte, 32)}
	h.peers[p.id] = p
	return p
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.id]; ok {
		delete(h.peers, p.id)
		close(p.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// broadcast queues b for every peer. Slow peers lose the envelope.
func (h *hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		select {
		case p.send <- b:
		default:
			logx.Log.Warn().Uint64("peer", p.id).Msg("push queue full, dropping envelope")
		}
	}
}

// closeAll drops every peer with the given close code.
func (h *hub) closeAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close(code, reason)
	}
}

// Broadcast sends a server-originated envelope to every connected client.
func (s *Server) Broadcast(typ string, data any) error {
	env, err := wire.NewEnvelope(typ, data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.hub.broadcast(b)
	return nil
}

func (s *Server) broadcastOrLog(typ string, data any) {
	if err := s.Broadcast(typ, data); err != nil {
		logx.Log.Error().Err(err).Str("type", typ).Msg("broadcast failed")
	}
}

// Peers reports the number of connected push-channel clients.
func (s *Server) Peers() int { return s.hub.count() }

// DropPeers closes every push-channel connection abnormally, as a crashed
// server would.
func (s *Server) DropPeers() {
	s.hub.closeAll(websocket.StatusGoingAway, "server restarting")
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	tok := extractBearer(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if !s.authorized(tok) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		return
	}
	ctx := r.Context()
	p := s.hub.add(c)
	defer func() {
		s.hub.remove(p)
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()
	logx.Log.Info().Uint64("peer", p.id).Msg("push client connected")

	go func() {
		for b := range p.send {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		}
	}()

	for {
		_, msg, err := c.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				lvl := logx.Log.Info()
				if ce.Code != websocket.StatusNormalClosure {
					lvl = logx.Log.Warn()
				}
				lvl.Uint64("peer", p.id).Str("reason", ce.Reason).Msg("push client disconnected")
			} else {
				logx.Log.Debug().Err(err).Uint64("peer", p.id).Msg("push client disconnected")
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
			logx.Log.Warn().Uint64("peer", p.id).Msg("ignoring malformed envelope")
			continue
		}
		switch env.Type {
		case wire.TypePing:
			if b, err := json.Marshal(wire.Envelope{Type: wire.TypePong, Timestamp: time.Now().UTC()}); err == nil {
				select {
				case p.send <- b:
				default:
				}
			}
		case wire.TypeChatMessage, wire.TypeDiceRoll:
			s.hub.broadcast(msg)
		default:
			logx.Log.Debug().Uint64("peer", p.id).Str("type", env.Type).Msg("ignoring envelope")
		}
	}
}
