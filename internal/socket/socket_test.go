package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/questlink/internal/reconnect"
	"github.com/gaspardpetit/questlink/internal/wire"
)

type recorder struct {
	mu     sync.Mutex
	status []wire.ConnectionStatus
	events []wire.ConnectionEvent
}

func (r *recorder) observe(s wire.ConnectionStatus, ev wire.ConnectionEvent) {
	r.mu.Lock()
	r.status = append(r.status, s)
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]wire.ConnectionStatus, []wire.ConnectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.ConnectionStatus(nil), r.status...), append([]wire.ConnectionEvent(nil), r.events...)
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

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestLazyConnectAndDroppedSend(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	s := New(Options{URL: wsURL(srv), Backoff: reconnect.Backoff{Base: time.Millisecond, MaxAttempts: 2}})
	defer s.Disconnect()
	time.Sleep(20 * time.Millisecond)
	if dials.Load() != 0 {
		t.Fatalf("socket dialed before first use")
	}
	if s.Status() != wire.StatusDisconnected {
		t.Fatalf("initial status: %s", s.Status())
	}

	if s.Send("chat_message", map[string]string{"content": "hi"}) {
		t.Fatalf("send before open should be dropped")
	}
	waitFor(t, "connected", func() bool { return s.Status() == wire.StatusConnected })
	if dials.Load() != 1 {
		t.Fatalf("dials: %d", dials.Load())
	}
}

func TestSendWritesEnvelope(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		_, data, err := c.Read(r.Context())
		if err == nil {
			got <- data
		}
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	s := New(Options{URL: wsURL(srv)})
	defer s.Disconnect()
	s.Connect()
	s.Connect()
	waitFor(t, "connected", func() bool { return s.Status() == wire.StatusConnected })
	if !s.Send("player_action", map[string]string{"content": "search the room"}) {
		t.Fatalf("send reported drop while connected")
	}

	select {
	case data := <-got:
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type != "player_action" || env.Timestamp.IsZero() {
			t.Fatalf("envelope: %+v", env)
		}
		var body map[string]string
		if err := env.Decode(&body); err != nil || body["content"] != "search the room" {
			t.Fatalf("data: %v err=%v", body, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the envelope")
	}
}

func TestInboundDispatchDropsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		ctx := r.Context()
		_ = c.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"data":{}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"scene_change","data":{"scene_id":"crypt"},"timestamp":"2024-01-01T00:00:00Z"}`))
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	s := New(Options{URL: wsURL(srv)})
	defer s.Disconnect()

	scenes := make(chan wire.SceneChange, 1)
	var generic atomic.Int32
	s.On(wire.TypeAny, func(env wire.Envelope) { generic.Add(1) })
	s.On(wire.TypeSceneChange, func(env wire.Envelope) {
		var sc wire.SceneChange
		if err := env.Decode(&sc); err == nil {
			scenes <- sc
		}
	})

	select {
	case sc := <-scenes:
		if sc.SceneID != "crypt" {
			t.Fatalf("scene: %+v", sc)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scene change not delivered")
	}
	if generic.Load() != 1 {
		t.Fatalf("generic listener saw %d envelopes", generic.Load())
	}
}

// The first connection drops and every later handshake is refused. With a
// maximum of five attempts the socket must try exactly five reconnects,
// with non-decreasing delays, and then stay failed.
func TestReconnectAttemptsExhausted(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close(websocket.StatusGoingAway, "server restart")
	}))
	defer srv.Close()

	rec := &recorder{}
	backoff := reconnect.Backoff{Base: time.Millisecond, MaxAttempts: 5}
	s := New(Options{URL: wsURL(srv), Backoff: backoff})
	defer s.Disconnect()
	s.OnStatusChange(rec.observe)
	s.Connect()

	waitFor(t, "failed status", func() bool {
		_, evs := rec.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].Status == wire.EventFailed
	})
	time.Sleep(100 * time.Millisecond)

	if got := dials.Load(); got != 6 {
		t.Fatalf("expected 1 dial plus 5 reconnects, got %d", got)
	}
	status, evs := rec.snapshot()
	if status[len(status)-1] != wire.StatusError {
		t.Fatalf("final status: %s", status[len(status)-1])
	}

	var attempts []int
	sawDisconnect := false
	for _, ev := range evs {
		switch ev.Status {
		case wire.EventReconnecting:
			attempts = append(attempts, ev.Attempt)
		case wire.EventDisconnected:
			sawDisconnect = true
			if ev.Code != int(websocket.StatusGoingAway) || ev.Reason != "server restart" {
				t.Fatalf("disconnect event: %+v", ev)
			}
		}
	}
	if !sawDisconnect {
		t.Fatalf("no disconnected event in %+v", evs)
	}
	if len(attempts) != 5 {
		t.Fatalf("reconnect attempts: %v", attempts)
	}
	prev := time.Duration(0)
	for i, a := range attempts {
		if a != i+1 {
			t.Fatalf("attempt order: %v", attempts)
		}
		d := backoff.Delay(a)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d", a)
		}
		prev = d
	}

	if s.Send("ping", nil) {
		t.Fatalf("send succeeded on a failed socket")
	}
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != 6 {
		t.Fatalf("send restarted the connection after exhaustion")
	}
}

func TestReconnectResetsAfterSuccess(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			_ = c.Close(websocket.StatusInternalError, "boom")
			return
		}
		defer func() { _ = c.CloseNow() }()
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	rec := &recorder{}
	s := New(Options{URL: wsURL(srv), Backoff: reconnect.Backoff{Base: time.Millisecond, MaxAttempts: 3}})
	defer s.Disconnect()
	s.OnStatusChange(rec.observe)
	s.Connect()

	waitFor(t, "second connection", func() bool { return dials.Load() == 2 && s.Status() == wire.StatusConnected })
	status, _ := rec.snapshot()
	want := []wire.ConnectionStatus{
		wire.StatusConnecting, wire.StatusConnected,
		wire.StatusDisconnected, wire.StatusReconnecting,
		wire.StatusConnecting, wire.StatusConnected,
	}
	if len(status) != len(want) {
		t.Fatalf("status sequence: %v", status)
	}
	for i := range want {
		if status[i] != want[i] {
			t.Fatalf("status sequence: %v", status)
		}
	}
}

func TestDisconnectClearsListenersAndStops(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	s := New(Options{URL: wsURL(srv), Backoff: reconnect.Backoff{Base: time.Millisecond, MaxAttempts: 3}})
	conn := make(chan wire.ConnectionEvent, 8)
	s.On(wire.TypeConnection, func(env wire.Envelope) {
		var ev wire.ConnectionEvent
		_ = env.Decode(&ev)
		conn <- ev
	})
	waitFor(t, "connected", func() bool { return s.Status() == wire.StatusConnected })

	s.Disconnect()
	if s.Status() != wire.StatusDisconnected {
		t.Fatalf("status after disconnect: %s", s.Status())
	}
	if s.events.Count(wire.TypeConnection) != 0 {
		t.Fatalf("listeners survived Disconnect")
	}
	var last wire.ConnectionEvent
	for len(conn) > 0 {
		last = <-conn
	}
	if last.Status != wire.EventDisconnected {
		t.Fatalf("last connection event: %+v", last)
	}
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != 1 {
		t.Fatalf("socket reconnected after Disconnect: %d dials", dials.Load())
	}

	s.Connect()
	waitFor(t, "explicit reconnect", func() bool { return s.Status() == wire.StatusConnected })
	s.Disconnect()
}

func TestDialSendsBearerToken(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	s := New(Options{URL: wsURL(srv), Token: func() string { return "tok" }})
	defer s.Disconnect()
	s.Connect()
	select {
	case got := <-auth:
		if got != "Bearer tok" {
			t.Fatalf("authorization: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no handshake")
	}
}

func TestPingLoopStopsWithContext(t *testing.T) {
	var n atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		startPing(ctx, time.Millisecond, func() { n.Add(1) })
		close(done)
	}()
	waitFor(t, "pings", func() bool { return n.Load() >= 2 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("ping loop did not stop")
	}
}
