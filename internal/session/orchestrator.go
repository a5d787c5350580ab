// Package session coordinates one player's orchestration session: it starts
// the session, submits actions, enforces dice blocking, and turns server
// responses and push envelopes into chat messages and state callbacks.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/questlink/internal/audit"
	"github.com/gaspardpetit/questlink/internal/events"
	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/socket"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// DefaultContinuationDelay separates a player's message from the narration
// that answers it.
const DefaultContinuationDelay = 800 * time.Millisecond

// API is the request/response surface the orchestrator depends on.
// *gateway.Gateway implements it.
type API interface {
	StartSession(ctx context.Context, req wire.StartSessionRequest) gateway.Result[wire.StartSessionResponse]
	SubmitAction(ctx context.Context, sessionID string, req wire.ActionRequest) gateway.Result[wire.ActionResponse]
	RollDice(ctx context.Context, req wire.RollRequest) gateway.Result[wire.RollResponse]
	FulfillDice(ctx context.Context, sessionID string, req wire.FulfillRequest) gateway.Result[wire.FulfillResponse]
	GameStatus(ctx context.Context, sessionID string) gateway.Result[wire.GameStatus]
	Speak(ctx context.Context, text string) gateway.Result[wire.SpeechResponse]
}

// PushChannel is the push-channel surface the orchestrator depends on.
// *socket.Socket implements it.
type PushChannel interface {
	Status() wire.ConnectionStatus
	OnStatusChange(fn socket.StatusFunc)
	On(name string, fn events.Handler) events.HandlerID
	Off(name string, id events.HandlerID) bool
	Send(typ string, data any) bool
	Connect()
	Disconnect()
}

// Callbacks receive everything the consuming UI renders. Nil callbacks are
// skipped; a panicking callback is logged and does not affect the others.
type Callbacks struct {
	OnNewMessage       func(wire.ChatMessage)
	OnGameStateUpdate  func(map[string]any)
	OnCharacterUpdate  func(map[string]any)
	OnConnectionChange func(wire.ConnectionStatus)
	OnDiceRequired     func(wire.DiceRequirement)
}

// Options configures an Orchestrator.
type Options struct {
	CharacterID int
	// FallbackID is used as the session id when no session was started.
	// It is a degraded mode and is logged every time it is used.
	FallbackID        string
	ContinuationDelay time.Duration
	Audit             audit.Store
}

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateSessionStarting State = "session_starting"
	StateSessionActive   State = "session_active"
	StateWaitingForDice  State = "waiting_for_dice"
)

type subscription struct {
	name string
	id   events.HandlerID
}

// Orchestrator owns at most one live session.
type Orchestrator struct {
	api  API
	push PushChannel
	cb   Callbacks
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	state      State
	session    *wire.Session
	detached   *wire.DiceRequirement // pending roll while running on FallbackID
	connStatus wire.ConnectionStatus
	subs       []subscription
	seen       *idSet
	pollStop   context.CancelFunc
	closed     bool

	done    chan struct{}
	pending sync.WaitGroup
	speech  gateway.Superseder
}

// New returns an idle orchestrator. The push channel is not touched until
// the first session operation or Connect.
func New(api API, push PushChannel, cb Callbacks, opts Options) *Orchestrator {
	if opts.ContinuationDelay < 0 {
		opts.ContinuationDelay = 0
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemoryStore()
	}
	o := &Orchestrator{
		api:        api,
		push:       push,
		cb:         cb,
		opts:       opts,
		log:        logx.Component("session"),
		state:      StateIdle,
		connStatus: push.Status(),
		seen:       newIDSet(256),
		done:       make(chan struct{}),
	}
	push.OnStatusChange(o.onStatus)
	return o
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns a copy of the live session.
func (o *Orchestrator) Session() (wire.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return wire.Session{}, false
	}
	s := *o.session
	if s.PendingDiceRequirement != nil {
		req := *s.PendingDiceRequirement
		s.PendingDiceRequirement = &req
	}
	return s, true
}

// PendingRequirement returns the roll the session is blocked on.
func (o *Orchestrator) PendingRequirement() (wire.DiceRequirement, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if req := o.currentPending(); req != nil {
		return *req, true
	}
	return wire.DiceRequirement{}, false
}

// currentPending must be called with o.mu held.
func (o *Orchestrator) currentPending() *wire.DiceRequirement {
	if o.session == nil {
		return o.detached
	}
	return o.session.PendingDiceRequirement
}

// ConnectionStatus mirrors the push channel status.
func (o *Orchestrator) ConnectionStatus() wire.ConnectionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connStatus
}

// Connect subscribes to inbound envelopes and opens the push channel. It is
// also the manual way back after reconnection gave up.
func (o *Orchestrator) Connect() {
	o.attach()
	o.push.Connect()
}

// Disconnect destroys the session and closes the push channel.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	o.session = nil
	o.detached = nil
	o.state = StateIdle
	o.subs = nil
	o.mu.Unlock()
	o.push.Disconnect()
}

// Close stops polling and pending continuations, cancels speech, and
// disconnects. The orchestrator cannot be reused.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	stop := o.pollStop
	o.pollStop = nil
	close(o.done)
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	o.speech.Cancel()
	o.pending.Wait()
	o.Disconnect()
}

// StartSession opens a session for userID. When the server sends opening
// narration it is published before StartSession returns. On failure the
// orchestrator returns to its previous state.
func (o *Orchestrator) StartSession(ctx context.Context, userID string) (wire.Session, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return wire.Session{}, ErrClosed
	}
	if o.state == StateSessionStarting {
		o.mu.Unlock()
		return wire.Session{}, ErrStartInProgress
	}
	prev := o.state
	o.state = StateSessionStarting
	o.mu.Unlock()

	o.attach()
	res := o.api.StartSession(ctx, wire.StartSessionRequest{UserID: userID, CharacterID: o.opts.CharacterID})
	if res.Success && res.Data.SessionID == "" {
		res = gateway.Result[wire.StartSessionResponse]{Kind: gateway.KindProtocol, Status: res.Status, Error: "start-session: response has no session id"}
	}
	if !res.Success {
		o.mu.Lock()
		o.state = prev
		o.mu.Unlock()
		o.log.Error().Str("user", userID).Str("kind", string(res.Kind)).Str("error", res.Error).Msg("start session failed")
		return wire.Session{}, requestError("start-session", res)
	}

	sess := wire.Session{SessionID: res.Data.SessionID, CharacterID: o.opts.CharacterID}
	o.mu.Lock()
	if o.session != nil {
		o.log.Info().Str("previous", o.session.SessionID).Msg("replacing live session")
	}
	o.session = &sess
	o.detached = nil
	o.state = StateSessionActive
	o.mu.Unlock()
	o.log.Info().Str("session", sess.SessionID).Str("user", userID).Int("character", sess.CharacterID).Msg("session started")

	if res.Data.NarrativeText != "" {
		msg := wire.NewChatMessage(wire.MessageNarration, res.Data.NarrativeText, map[string]any{"session_id": sess.SessionID})
		o.publish(msg)
		o.mirror(wire.TypeChatMessage, msg)
	}
	return sess, nil
}

// sessionID resolves the id used for session-scoped calls.
func (o *Orchestrator) sessionID() (string, error) {
	o.mu.Lock()
	var id string
	if o.session != nil {
		id = o.session.SessionID
	}
	o.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if o.opts.FallbackID != "" {
		o.log.Warn().Str("fallback", o.opts.FallbackID).Msg("no orchestration session, using fallback id")
		return o.opts.FallbackID, nil
	}
	return "", ErrNoSession
}

// track registers a background task with Close. It reports false once the
// orchestrator is closed.
func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.pending.Add(1)
	return true
}

// setPending updates the waiting flag and the requirement together. It must
// be called with o.mu held and reports whether the session just became
// blocked. Without a started session only the detached requirement is kept
// and the state stays Idle.
func (o *Orchestrator) setPending(req *wire.DiceRequirement) bool {
	if o.session == nil {
		was := o.detached != nil
		o.detached = nil
		if req != nil {
			r := *req
			o.detached = &r
		}
		return req != nil && !was
	}
	was := o.session.IsWaitingForDice
	if req == nil {
		o.session.IsWaitingForDice = false
		o.session.PendingDiceRequirement = nil
		if o.state == StateWaitingForDice {
			o.state = StateSessionActive
		}
		return false
	}
	r := *req
	o.session.IsWaitingForDice = true
	o.session.PendingDiceRequirement = &r
	o.state = StateWaitingForDice
	return !was
}

func (o *Orchestrator) onStatus(status wire.ConnectionStatus, _ wire.ConnectionEvent) {
	o.mu.Lock()
	changed := o.connStatus != status
	o.connStatus = status
	o.mu.Unlock()
	if changed && o.cb.OnConnectionChange != nil {
		safely("OnConnectionChange", func() { o.cb.OnConnectionChange(status) })
	}
}

// publish marks msg as seen and hands it to the UI.
func (o *Orchestrator) publish(msg wire.ChatMessage) {
	o.seen.add(msg.ID)
	if o.cb.OnNewMessage != nil {
		safely("OnNewMessage", func() { o.cb.OnNewMessage(msg) })
	}
}

// publishLater publishes msg after the continuation delay unless the
// orchestrator is closed first.
func (o *Orchestrator) publishLater(msg wire.ChatMessage, mirror bool) {
	o.seen.add(msg.ID)
	if !o.track() {
		return
	}
	go func() {
		defer o.pending.Done()
		if d := o.opts.ContinuationDelay; d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-o.done:
				return
			}
		}
		o.publish(msg)
		if mirror {
			o.mirror(wire.TypeChatMessage, msg)
		}
	}()
}

func (o *Orchestrator) mirror(typ string, data any) {
	if !o.push.Send(typ, data) {
		o.log.Debug().Str("type", typ).Msg("mirror not delivered")
	}
}

func (o *Orchestrator) systemMessage(content string, metadata map[string]any) {
	o.publish(wire.NewChatMessage(wire.MessageSystem, content, metadata))
}

func (o *Orchestrator) gameState(update map[string]any) {
	if len(update) == 0 || o.cb.OnGameStateUpdate == nil {
		return
	}
	safely("OnGameStateUpdate", func() { o.cb.OnGameStateUpdate(update) })
}

func (o *Orchestrator) characterState(update map[string]any) {
	if len(update) == 0 || o.cb.OnCharacterUpdate == nil {
		return
	}
	safely("OnCharacterUpdate", func() { o.cb.OnCharacterUpdate(update) })
}

func (o *Orchestrator) diceRequired(req wire.DiceRequirement) {
	if o.cb.OnDiceRequired == nil {
		return
	}
	safely("OnDiceRequired", func() { o.cb.OnDiceRequired(req) })
}

func safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logx.Log.Error().Str("callback", name).Interface("panic", r).Msg("callback panicked")
		}
	}()
	fn()
}

// idSet remembers the most recent message ids.
type idSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
}

func newIDSet(limit int) *idSet {
	return &idSet{ids: make(map[string]struct{}), limit: limit}
}

func (s *idSet) add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *idSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}
