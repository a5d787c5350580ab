// Package socket owns the push-channel WebSocket: it connects lazily,
// reports lifecycle transitions, and reconnects with exponential backoff
// after unexpected loss.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/questlink/internal/events"
	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/metrics"
	"github.com/gaspardpetit/questlink/internal/reconnect"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// Options configures a Socket.
type Options struct {
	URL          string
	Backoff      reconnect.Backoff
	PingInterval time.Duration
	// Token, when set, is consulted on every dial and sent as a bearer token.
	Token func() string
	// HTTPClient is used for the opening handshake.
	HTTPClient *http.Client
}

// StatusFunc observes lifecycle transitions. It survives Disconnect.
type StatusFunc func(status wire.ConnectionStatus, ev wire.ConnectionEvent)

// Socket maintains zero or one open push-channel connection.
type Socket struct {
	opts   Options
	events *events.Dispatcher

	mu        sync.Mutex
	status    wire.ConnectionStatus
	conn      *websocket.Conn
	connCtx   context.Context
	gen       uint64
	started   bool
	running   bool
	stop      context.CancelFunc
	observers []StatusFunc
}

// New returns a disconnected socket. Nothing is dialed until Connect, Send
// or On is called.
func New(opts Options) *Socket {
	if opts.Backoff.Base <= 0 && opts.Backoff.MaxAttempts <= 0 {
		opts.Backoff = reconnect.Default()
	}
	return &Socket{opts: opts, events: events.New(), status: wire.StatusDisconnected}
}

// Status returns the current connection status.
func (s *Socket) Status() wire.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatusChange registers an observer for lifecycle transitions.
func (s *Socket) OnStatusChange(fn StatusFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// On subscribes to an inbound envelope type. The first call on a fresh
// socket opens the connection.
func (s *Socket) On(name string, fn events.Handler) events.HandlerID {
	s.connectLazily()
	return s.events.On(name, fn)
}

// Off removes a subscription made with On.
func (s *Socket) Off(name string, id events.HandlerID) bool {
	return s.events.Off(name, id)
}

// Connect starts the connection loop. It is a no-op while a connection is
// open or being established, and it is the only way to resume after
// reconnection attempts were exhausted.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	gen := s.gen
	s.started = true
	s.running = true
	s.stop = cancel
	s.mu.Unlock()

	go s.run(ctx, gen)
}

// connectLazily opens the connection only if it was never opened before, so
// that exhausted or explicitly closed sockets stay down until Connect.
func (s *Socket) connectLazily() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.Connect()
	}
}

// Send writes an envelope if the channel is open. Otherwise the envelope is
// logged and dropped; delivery is never guaranteed. It reports whether the
// envelope was written.
func (s *Socket) Send(typ string, data any) bool {
	s.connectLazily()
	s.mu.Lock()
	conn, ctx := s.conn, s.connCtx
	s.mu.Unlock()
	if conn == nil {
		logx.Log.Warn().Str("type", typ).Msg("push channel not open; dropping message")
		metrics.RecordDroppedSend()
		return false
	}
	env, err := wire.NewEnvelope(typ, data)
	if err != nil {
		logx.Log.Error().Err(err).Str("type", typ).Msg("encode envelope")
		return false
	}
	b, err := json.Marshal(env)
	if err != nil {
		logx.Log.Error().Err(err).Str("type", typ).Msg("encode envelope")
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		logx.Log.Warn().Err(err).Str("type", typ).Msg("push channel write failed; dropping message")
		metrics.RecordDroppedSend()
		return false
	}
	return true
}

// Disconnect closes the channel, emits disconnected, and clears every
// registered listener. Automatic reconnection stops.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	stop, conn := s.stop, s.conn
	s.gen++
	s.started = true
	s.running = false
	s.stop = nil
	s.conn = nil
	s.connCtx = nil
	s.status = wire.StatusDisconnected
	observers := append([]StatusFunc(nil), s.observers...)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	s.notify(observers, wire.StatusDisconnected, wire.ConnectionEvent{
		Status: wire.EventDisconnected,
		Reason: "client disconnect",
		Code:   int(websocket.StatusNormalClosure),
	})
	s.events.Clear()
}

func (s *Socket) run(ctx context.Context, gen uint64) {
	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.running = false
			s.stop = nil
			s.conn = nil
			s.connCtx = nil
		}
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		if attempt > 0 {
			if s.opts.Backoff.Exhausted(attempt) {
				logx.Log.Error().Int("attempts", attempt-1).Msg("reconnect attempts exhausted")
				s.transition(gen, wire.StatusError, wire.ConnectionEvent{Status: wire.EventFailed, Error: "failed", Attempt: attempt - 1})
				return
			}
			delay := s.opts.Backoff.Delay(attempt)
			s.transition(gen, wire.StatusReconnecting, wire.ConnectionEvent{Status: wire.EventReconnecting, Attempt: attempt})
			metrics.RecordReconnectAttempt()
			logx.Log.Warn().Int("attempt", attempt).Dur("backoff", delay).Msg("push channel lost; retrying")
			if !sleep(ctx, delay) {
				return
			}
		}

		s.transition(gen, wire.StatusConnecting, wire.ConnectionEvent{})
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Log.Warn().Err(err).Str("url", s.opts.URL).Msg("push channel dial failed")
			s.transition(gen, wire.StatusError, wire.ConnectionEvent{Status: wire.EventError, Error: err.Error()})
			attempt++
			continue
		}

		connCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			cancel()
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			return
		}
		s.conn = conn
		s.connCtx = connCtx
		s.mu.Unlock()

		attempt = 0
		logx.Log.Info().Str("url", s.opts.URL).Msg("push channel connected")
		s.transition(gen, wire.StatusConnected, wire.ConnectionEvent{Status: wire.EventConnected})

		if s.opts.PingInterval > 0 {
			go startPing(connCtx, s.opts.PingInterval, func() { s.Send(wire.TypePing, nil) })
		}
		code, reason := s.readLoop(connCtx, conn)
		cancel()

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.connCtx = nil
		}
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
		logx.Log.Warn().Int("code", code).Str("reason", reason).Msg("push channel closed")
		s.transition(gen, wire.StatusDisconnected, wire.ConnectionEvent{Status: wire.EventDisconnected, Reason: reason, Code: code})
		attempt = 1
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{HTTPClient: s.opts.HTTPClient}
	if s.opts.Token != nil {
		if tok := s.opts.Token(); tok != "" {
			opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + tok}}
		}
	}
	conn, resp, err := websocket.Dial(ctx, s.opts.URL, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// readLoop dispatches inbound envelopes until the connection ends and
// returns the close code and reason.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) (int, string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return int(ce.Code), ce.Reason
			}
			return int(websocket.StatusAbnormalClosure), err.Error()
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			logx.Log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed push message")
			metrics.RecordMalformedInbound()
			continue
		}
		if env.Type == wire.TypePing {
			go s.Send(wire.TypePong, nil)
			continue
		}
		s.events.Dispatch(env)
	}
}

// transition records a status change for the loop generation gen and
// notifies observers and connection listeners. Stale generations are ignored.
func (s *Socket) transition(gen uint64, status wire.ConnectionStatus, ev wire.ConnectionEvent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.status = status
	observers := append([]StatusFunc(nil), s.observers...)
	s.mu.Unlock()
	s.notify(observers, status, ev)
}

func (s *Socket) notify(observers []StatusFunc, status wire.ConnectionStatus, ev wire.ConnectionEvent) {
	metrics.SetConnectionStatus(status)
	for _, fn := range observers {
		fn(status, ev)
	}
	if ev.Status == "" {
		return
	}
	env, err := wire.NewEnvelope(wire.TypeConnection, ev)
	if err != nil {
		return
	}
	s.events.Emit(wire.TypeConnection, env)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
