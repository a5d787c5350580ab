// Package client runs the line-oriented session client: it wires the
// gateway, the push channel and the orchestrator together and drives them
// from text input.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/questlink/internal/audit"
	"github.com/gaspardpetit/questlink/internal/config"
	"github.com/gaspardpetit/questlink/internal/dice"
	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/metrics"
	"github.com/gaspardpetit/questlink/internal/session"
	"github.com/gaspardpetit/questlink/internal/socket"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// printer serializes output from callbacks and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) message(m wire.ChatMessage) {
	switch m.Type {
	case wire.MessageNarration:
		p.printf("%s", m.Content)
	case wire.MessageSystem:
		p.printf("* %s", m.Content)
	case wire.MessageDiceRoll:
		p.printf("[roll] %s", m.Content)
	case wire.MessagePlayerSpeech:
		p.printf("> \"%s\"", m.Content)
	case wire.MessagePlayerThought:
		p.printf("> (%s)", m.Content)
	default:
		p.printf("> %s", m.Content)
	}
}

// Run connects, starts a session for cfg.UserID and executes commands read
// from in until it is exhausted, /quit is entered, or ctx is done.
func Run(ctx context.Context, cfg config.ClientConfig, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics.Register(reg)
		addr, err := metrics.StartServer(ctx, cfg.MetricsAddr, reg)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		logx.Log.Info().Str("addr", addr).Msg("metrics server started")
	}

	store, closeStore, err := openAudit(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var refresh gateway.RefreshFunc
	if cfg.TokenFile != "" {
		refresh = TokenFileRefresher(cfg.TokenFile)
	}
	creds := gateway.NewCredentials(initialToken(cfg.AccessToken, cfg.TokenFile), refresh)
	gw := gateway.New(cfg.APIURL, creds)
	sock := socket.New(socket.Options{
		URL:          cfg.SocketURL,
		Backoff:      cfg.Backoff(),
		PingInterval: cfg.PingInterval,
		Token:        creds.Token,
	})

	p := &printer{out: out}
	orch := session.New(gw, sock, session.Callbacks{
		OnNewMessage: p.message,
		OnConnectionChange: func(s wire.ConnectionStatus) {
			if s == wire.StatusError {
				p.printf("* connection lost; type /reconnect to try again")
			}
		},
		OnDiceRequired: func(r wire.DiceRequirement) {
			p.printf("* roll needed: %s for %s (type /fulfill)", r.Expression, r.Purpose)
		},
		OnCharacterUpdate: func(m map[string]any) {
			logx.Log.Debug().Interface("changes", m).Msg("character update")
		},
	}, session.Options{
		CharacterID:       cfg.CharacterID,
		FallbackID:        cfg.GameID,
		ContinuationDelay: cfg.ContinuationDelay,
		Audit:             store,
	})
	defer orch.Close()

	sess, err := orch.StartSession(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logx.Log.Info().Str("session", sess.SessionID).Msg("session ready")
	orch.StartPolling(ctx, cfg.StatusPollInterval)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if quit := execute(ctx, orch, p, parseCommand(line)); quit {
				return nil
			}
		}
	}
}

func openAudit(ctx context.Context, cfg config.ClientConfig) (audit.Store, func(), error) {
	if cfg.AuditRedisURL == "" {
		return audit.NewMemoryStore(), func() {}, nil
	}
	rs, err := audit.NewRedisStore(ctx, cfg.AuditRedisURL, cfg.AuditTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("audit store: %w", err)
	}
	return rs, func() { _ = rs.Close() }, nil
}

// execute runs one command and reports whether the client should exit.
func execute(ctx context.Context, orch *session.Orchestrator, p *printer, c command) bool {
	switch c.name {
	case "quit":
		return true
	case "help":
		p.printf("%s", helpText)
	case "action", "speech", "thought":
		if c.arg == "" {
			p.printf("* nothing to do")
			return false
		}
		if _, err := orch.SendPlayerAction(ctx, c.name, c.arg); err != nil && !errors.Is(err, session.ErrBlocked) {
			p.printf("* %v", err)
		}
	case "roll":
		spec, err := parseRoll(c.arg)
		if err != nil {
			p.printf("* %v", err)
			return false
		}
		res, err := orch.RollDice(ctx, spec)
		if err != nil {
			p.printf("* %v", err)
			return false
		}
		note := ""
		if res.Degraded() {
			note = " (rolled locally)"
		}
		p.printf("[roll] %s%s", dice.Describe(res), note)
	case "fulfill":
		res, err := orch.RollRequirement()
		if errors.Is(err, session.ErrNotWaitingForDice) {
			if _, serr := orch.GameStatus(ctx); serr == nil {
				res, err = orch.RollRequirement()
			}
		}
		if err != nil {
			p.printf("* %v", err)
			return false
		}
		if _, err := orch.FulfillDiceRequirement(ctx, res); err != nil {
			logx.Log.Debug().Err(err).Msg("fulfill failed")
		}
	case "status":
		st, err := orch.GameStatus(ctx)
		if err != nil {
			p.printf("* %v", err)
			return false
		}
		line := fmt.Sprintf("* stage=%s completed=%v connection=%s", st.CurrentStage, st.StoryCompleted, orch.ConnectionStatus())
		if req := st.WorldState.PendingDiceRequirement; st.WorldState.WaitingForDice && req != nil {
			line += fmt.Sprintf(" waiting=%s (%s)", req.Purpose, req.Expression)
		}
		p.printf("%s", line)
	case "speak":
		url, err := orch.Speak(ctx, c.arg)
		if err != nil {
			p.printf("* %v", err)
			return false
		}
		p.printf("* audio: %s", url)
	case "reconnect":
		orch.Connect()
	default:
		p.printf("* unknown command /%s (try /help)", c.name)
	}
	return false
}

// parseRoll reads "2d6+1", optionally followed by "adv" or "dis".
func parseRoll(arg string) (dice.Spec, error) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return dice.Spec{}, fmt.Errorf("usage: /roll <dice> [adv|dis]")
	}
	n, err := dice.Parse(fields[0])
	if err != nil {
		return dice.Spec{}, err
	}
	spec := dice.Spec{DiceType: n.DiceType(), Count: n.Count, Modifier: n.Modifier}
	for _, f := range fields[1:] {
		switch strings.ToLower(f) {
		case "adv", "advantage":
			spec.Advantage = true
		case "dis", "disadvantage":
			spec.Disadvantage = true
		default:
			return dice.Spec{}, fmt.Errorf("unknown roll option %q", f)
		}
	}
	return spec, nil
}
