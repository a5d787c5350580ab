package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gaspardpetit/questlink/internal/events"
	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/socket"
	"github.com/gaspardpetit/questlink/internal/wire"
)

type fakeAPI struct {
	mu sync.Mutex

	start   func(wire.StartSessionRequest) gateway.Result[wire.StartSessionResponse]
	submit  func(string, wire.ActionRequest) gateway.Result[wire.ActionResponse]
	roll    func(wire.RollRequest) gateway.Result[wire.RollResponse]
	fulfill func(string, wire.FulfillRequest) gateway.Result[wire.FulfillResponse]
	status  func(string) gateway.Result[wire.GameStatus]
	speak   func(context.Context, string) gateway.Result[wire.SpeechResponse]

	startReqs   []wire.StartSessionRequest
	submitReqs  []wire.ActionRequest
	fulfillReqs []wire.FulfillRequest
	statusIDs   []string
}

func (f *fakeAPI) StartSession(_ context.Context, req wire.StartSessionRequest) gateway.Result[wire.StartSessionResponse] {
	f.mu.Lock()
	f.startReqs = append(f.startReqs, req)
	f.mu.Unlock()
	if f.start == nil {
		return gateway.Result[wire.StartSessionResponse]{Success: true, Status: 200, Data: wire.StartSessionResponse{SessionID: "s1"}}
	}
	return f.start(req)
}

func (f *fakeAPI) SubmitAction(_ context.Context, sid string, req wire.ActionRequest) gateway.Result[wire.ActionResponse] {
	f.mu.Lock()
	f.submitReqs = append(f.submitReqs, req)
	f.mu.Unlock()
	if f.submit == nil {
		return gateway.Result[wire.ActionResponse]{Success: true, Status: 200, Data: wire.ActionResponse{
			PlayerMessage: wire.NewChatMessage(wire.ActionMessageType(req.Type), req.Content, nil),
		}}
	}
	return f.submit(sid, req)
}

func (f *fakeAPI) RollDice(_ context.Context, req wire.RollRequest) gateway.Result[wire.RollResponse] {
	if f.roll == nil {
		return gateway.Result[wire.RollResponse]{Kind: gateway.KindTransport, Error: "roll-dice: connection refused"}
	}
	return f.roll(req)
}

func (f *fakeAPI) FulfillDice(_ context.Context, sid string, req wire.FulfillRequest) gateway.Result[wire.FulfillResponse] {
	f.mu.Lock()
	f.fulfillReqs = append(f.fulfillReqs, req)
	f.mu.Unlock()
	if f.fulfill == nil {
		return gateway.Result[wire.FulfillResponse]{Success: true, Status: 200, Data: wire.FulfillResponse{NarrativeText: "The door creaks open."}}
	}
	return f.fulfill(sid, req)
}

func (f *fakeAPI) GameStatus(_ context.Context, sid string) gateway.Result[wire.GameStatus] {
	f.mu.Lock()
	f.statusIDs = append(f.statusIDs, sid)
	f.mu.Unlock()
	if f.status == nil {
		return gateway.Result[wire.GameStatus]{Success: true, Status: 200, Data: wire.GameStatus{CurrentStage: "intro"}}
	}
	return f.status(sid)
}

func (f *fakeAPI) Speak(ctx context.Context, text string) gateway.Result[wire.SpeechResponse] {
	if f.speak == nil {
		return gateway.Result[wire.SpeechResponse]{Success: true, Data: wire.SpeechResponse{AudioURL: "/audio/1.mp3"}}
	}
	return f.speak(ctx, text)
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitReqs)
}

type sent struct {
	typ  string
	data any
}

// fakePush is a connected push channel backed by a real dispatcher.
type fakePush struct {
	events *events.Dispatcher

	mu        sync.Mutex
	status    wire.ConnectionStatus
	observers []socket.StatusFunc
	sent      []sent
	connects  int
}

func newFakePush() *fakePush {
	return &fakePush{events: events.New(), status: wire.StatusConnected}
}

func (p *fakePush) Status() wire.ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePush) OnStatusChange(fn socket.StatusFunc) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

func (p *fakePush) On(name string, fn events.Handler) events.HandlerID {
	return p.events.On(name, fn)
}

func (p *fakePush) Off(name string, id events.HandlerID) bool {
	return p.events.Off(name, id)
}

func (p *fakePush) Send(typ string, data any) bool {
	p.mu.Lock()
	p.sent = append(p.sent, sent{typ: typ, data: data})
	p.mu.Unlock()
	return true
}

func (p *fakePush) Connect() {
	p.mu.Lock()
	p.connects++
	p.mu.Unlock()
	p.setStatus(wire.StatusConnected)
}

func (p *fakePush) Disconnect() {
	p.setStatus(wire.StatusDisconnected)
	p.events.Clear()
}

func (p *fakePush) setStatus(s wire.ConnectionStatus) {
	p.mu.Lock()
	p.status = s
	obs := append([]socket.StatusFunc(nil), p.observers...)
	p.mu.Unlock()
	for _, fn := range obs {
		fn(s, wire.ConnectionEvent{})
	}
}

func (p *fakePush) push(t *testing.T, typ string, data any) {
	t.Helper()
	env, err := wire.NewEnvelope(typ, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	p.events.Dispatch(env)
}

func (p *fakePush) sentTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, s := range p.sent {
		out[i] = s.typ
	}
	return out
}

// ui records every callback.
type ui struct {
	mu         sync.Mutex
	messages   []wire.ChatMessage
	game       []map[string]any
	character  []map[string]any
	conn       []wire.ConnectionStatus
	diceNeeded []wire.DiceRequirement
}

func (u *ui) callbacks() Callbacks {
	return Callbacks{
		OnNewMessage: func(m wire.ChatMessage) {
			u.mu.Lock()
			u.messages = append(u.messages, m)
			u.mu.Unlock()
		},
		OnGameStateUpdate: func(m map[string]any) {
			u.mu.Lock()
			u.game = append(u.game, m)
			u.mu.Unlock()
		},
		OnCharacterUpdate: func(m map[string]any) {
			u.mu.Lock()
			u.character = append(u.character, m)
			u.mu.Unlock()
		},
		OnConnectionChange: func(s wire.ConnectionStatus) {
			u.mu.Lock()
			u.conn = append(u.conn, s)
			u.mu.Unlock()
		},
		OnDiceRequired: func(r wire.DiceRequirement) {
			u.mu.Lock()
			u.diceNeeded = append(u.diceNeeded, r)
			u.mu.Unlock()
		},
	}
}

func (u *ui) msgs() []wire.ChatMessage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]wire.ChatMessage(nil), u.messages...)
}

func (u *ui) required() []wire.DiceRequirement {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]wire.DiceRequirement(nil), u.diceNeeded...)
}

func (u *ui) gameUpdates() []map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]map[string]any(nil), u.game...)
}

func (u *ui) characterUpdates() []map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]map[string]any(nil), u.character...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitingStatus(req *wire.DiceRequirement) gateway.Result[wire.GameStatus] {
	return gateway.Result[wire.GameStatus]{Success: true, Status: 200, Data: wire.GameStatus{
		CurrentStage: "cellar",
		WorldState:   wire.WorldState{WaitingForDice: true, PendingDiceRequirement: req},
	}}
}

func perception() *wire.DiceRequirement {
	dc := 12
	return &wire.DiceRequirement{Expression: "1d20", Purpose: "Perception Check", DC: &dc, AbilityModifier: 2}
}

// checkInvariant fails when the waiting flag and the requirement disagree.
func checkInvariant(t *testing.T, o *Orchestrator) {
	t.Helper()
	s, ok := o.Session()
	if !ok {
		return
	}
	if s.IsWaitingForDice != (s.PendingDiceRequirement != nil) {
		t.Fatalf("waiting=%v requirement=%v", s.IsWaitingForDice, s.PendingDiceRequirement)
	}
	if s.IsWaitingForDice != (o.State() == StateWaitingForDice) {
		t.Fatalf("waiting=%v state=%s", s.IsWaitingForDice, o.State())
	}
}
