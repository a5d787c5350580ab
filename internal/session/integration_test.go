package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gaspardpetit/questlink/internal/audit"
	"github.com/gaspardpetit/questlink/internal/config"
	"github.com/gaspardpetit/questlink/internal/devserver"
	"github.com/gaspardpetit/questlink/internal/dice"
	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/reconnect"
	"github.com/gaspardpetit/questlink/internal/socket"
	"github.com/gaspardpetit/questlink/internal/wire"
)

type stack struct {
	dev   *devserver.Server
	srv   *httptest.Server
	gw    *gateway.Gateway
	sock  *socket.Socket
	orch  *Orchestrator
	ui    *ui
	store *audit.MemoryStore
}

func newStack(t *testing.T, refresh gateway.RefreshFunc) *stack {
	t.Helper()
	dev := devserver.New(config.DevServerConfig{
		AccessToken:      "tok-1",
		DiceKeywords:     []string{"search:Perception Check"},
		OpeningNarrative: "You wake in a damp cellar.",
	})
	srv := httptest.NewServer(dev.Handler())
	creds := gateway.NewCredentials("tok-1", refresh)
	gw := gateway.New(srv.URL, creds)
	sock := socket.New(socket.Options{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + devserver.WSPath,
		Backoff: reconnect.Backoff{Base: 10 * time.Millisecond, MaxAttempts: 3},
		Token:   creds.Token,
	})
	u := &ui{}
	store := audit.NewMemoryStore()
	orch := New(gw, sock, u.callbacks(), Options{CharacterID: 42, ContinuationDelay: 5 * time.Millisecond, Audit: store})
	t.Cleanup(func() {
		orch.Close()
		srv.Close()
	})
	return &stack{dev: dev, srv: srv, gw: gw, sock: sock, orch: orch, ui: u, store: store}
}

func TestEndToEndDiceFlow(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	sess, err := s.orch.StartSession(ctx, "u1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if msgs := s.ui.msgs(); len(msgs) != 1 || msgs[0].Type != wire.MessageNarration {
		t.Fatalf("opening narration: %+v", msgs)
	}
	waitFor(t, "push channel", func() bool { return s.orch.ConnectionStatus() == wire.StatusConnected })

	if _, err := s.orch.SendPlayerAction(ctx, "action", "search the room"); err != nil {
		t.Fatalf("first action: %v", err)
	}
	waitFor(t, "continuation", func() bool { return len(s.ui.msgs()) >= 3 })

	before := len(s.ui.msgs())
	_, err = s.orch.SendPlayerAction(ctx, "action", "search the room")
	var blocked *BlockedActionError
	if !errors.As(err, &blocked) || blocked.Requirement.Purpose != "Perception Check" {
		t.Fatalf("want blocked by Perception Check, got %v", err)
	}
	msgs := s.ui.msgs()
	if len(msgs) != before+1 || !strings.Contains(msgs[len(msgs)-1].Content, "Perception Check") {
		t.Fatalf("block notice: %+v", msgs[before:])
	}
	checkInvariant(t, s.orch)

	roll, err := s.orch.RollRequirement()
	if err != nil {
		t.Fatalf("RollRequirement: %v", err)
	}
	resp, err := s.orch.FulfillDiceRequirement(ctx, roll)
	if err != nil {
		t.Fatalf("FulfillDiceRequirement: %v", err)
	}
	if resp.Summary == nil || resp.Summary.Total != dice.Total(roll.Rolls, roll.Modifier) {
		t.Fatalf("server total %+v, client %+v", resp.Summary, roll)
	}
	st, err := s.orch.GameStatus(ctx)
	if err != nil || st.WorldState.WaitingForDice {
		t.Fatalf("status after fulfill: %+v %v", st, err)
	}
	if server, ok := s.dev.Session(sess.SessionID); !ok || server.WorldState.WaitingForDice {
		t.Fatalf("server still waiting: %+v", server)
	}
	checkInvariant(t, s.orch)

	entries, err := s.store.List(ctx, sess.SessionID)
	if err != nil || len(entries) != 1 || entries[0].Source != audit.SourceFulfillment {
		t.Fatalf("audit: %+v %v", entries, err)
	}
}

func TestEndToEndMirrorIsNotDuplicated(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	if _, err := s.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, "push channel", func() bool { return s.dev.Peers() == 1 })

	if _, err := s.orch.SendPlayerAction(ctx, "speech", "hello there"); err != nil {
		t.Fatalf("SendPlayerAction: %v", err)
	}
	waitFor(t, "continuation", func() bool { return len(s.ui.msgs()) == 3 })
	time.Sleep(50 * time.Millisecond)
	msgs := s.ui.msgs()
	if len(msgs) != 3 {
		t.Fatalf("mirrored messages were duplicated: %+v", msgs)
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestEndToEndServerPush(t *testing.T) {
	s := newStack(t, nil)
	s.orch.Connect()
	waitFor(t, "push channel", func() bool { return s.dev.Peers() == 1 })

	if err := s.dev.Broadcast(wire.TypeSystemNotification, wire.SystemNotification{Message: "The tavern is closing."}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	waitFor(t, "notification", func() bool { return len(s.ui.msgs()) == 1 })
	if m := s.ui.msgs()[0]; m.Type != wire.MessageSystem || m.Content != "The tavern is closing." {
		t.Fatalf("message: %+v", m)
	}
}

func TestEndToEndTokenRefresh(t *testing.T) {
	refreshes := 0
	s := newStack(t, func(context.Context) (string, error) {
		refreshes++
		return "tok-2", nil
	})
	s.dev.RotateToken("tok-2")

	if _, err := s.orch.StartSession(context.Background(), "u1"); err != nil {
		t.Fatalf("StartSession after rotation: %v", err)
	}
	if refreshes != 1 {
		t.Fatalf("refreshes: %d", refreshes)
	}
	if s.gw.Credentials().Token() != "tok-2" {
		t.Fatalf("token not stored")
	}
}

func TestEndToEndAuthFailureSurfaces(t *testing.T) {
	s := newStack(t, nil)
	s.dev.RotateToken("other")
	_, err := s.orch.StartSession(context.Background(), "u1")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("want auth error, got %v", err)
	}
	if s.orch.State() != StateIdle {
		t.Fatalf("state: %s", s.orch.State())
	}
}

func TestEndToEndReconnectAfterDrop(t *testing.T) {
	s := newStack(t, nil)
	s.orch.Connect()
	waitFor(t, "connected", func() bool { return s.dev.Peers() == 1 })

	s.dev.DropPeers()
	sawReconnecting := func() bool {
		s.ui.mu.Lock()
		defer s.ui.mu.Unlock()
		for _, c := range s.ui.conn {
			if c == wire.StatusReconnecting {
				return true
			}
		}
		return false
	}
	waitFor(t, "reconnecting", sawReconnecting)
	waitFor(t, "reconnected", func() bool {
		return s.dev.Peers() == 1 && s.orch.ConnectionStatus() == wire.StatusConnected
	})
}

func TestEndToEndRollWithAdvantage(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	if _, err := s.orch.StartSession(ctx, "u1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 10; i++ {
		res, err := s.orch.RollDice(ctx, dice.Spec{DiceType: "d20", Count: 1, Advantage: true})
		if err != nil {
			t.Fatalf("RollDice: %v", err)
		}
		if res.Source != wire.SourceServer || !res.Advantage || res.Disadvantage {
			t.Fatalf("result: %+v", res)
		}
		if len(res.Rolls) != 1 || len(res.Discarded) != 1 || res.Rolls[0] < res.Discarded[0] {
			t.Fatalf("kept %v dropped %v", res.Rolls, res.Discarded)
		}
		if res.Total != res.Rolls[0] {
			t.Fatalf("total %d for %v", res.Total, res.Rolls)
		}
	}
	plain, err := s.orch.RollDice(ctx, dice.Spec{DiceType: "d20", Count: 1})
	if err != nil || plain.Advantage || len(plain.Discarded) != 0 {
		t.Fatalf("plain roll: %+v %v", plain, err)
	}
}
