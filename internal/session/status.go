package session

import (
	"context"
	"errors"
	"time"

	"github.com/gaspardpetit/questlink/internal/wire"
)

// GameStatus reads the server's view of the session and applies its
// waiting-for-dice state to the local projection. The server wins.
func (o *Orchestrator) GameStatus(ctx context.Context) (wire.GameStatus, error) {
	sid, err := o.sessionID()
	if err != nil {
		return wire.GameStatus{}, err
	}
	res := o.api.GameStatus(ctx, sid)
	if !res.Success {
		return wire.GameStatus{}, requestError("get-status", res)
	}
	if newly := o.applyWorldState(res.Data.WorldState); newly {
		req, _ := o.PendingRequirement()
		o.diceRequired(req)
	}
	return res.Data, nil
}

// applyWorldState copies the server's blocking state and reports whether
// the session just became blocked.
func (o *Orchestrator) applyWorldState(ws wire.WorldState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !ws.WaitingForDice {
		o.setPending(nil)
		return false
	}
	req := ws.PendingDiceRequirement
	if req == nil {
		req = o.currentPending()
	}
	if req == nil {
		g := genericRequirement
		req = &g
	}
	return o.setPending(req)
}

// StartPolling refreshes the game status every interval until ctx is done
// or the orchestrator is closed. Calling it again replaces the previous
// poller.
func (o *Orchestrator) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return
	}
	if o.pollStop != nil {
		o.pollStop()
	}
	o.pollStop = cancel
	o.pending.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.pending.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-t.C:
				o.poll(pollCtx)
			}
		}
	}()
}

func (o *Orchestrator) poll(ctx context.Context) {
	if _, ok := o.Session(); !ok {
		return
	}
	st, err := o.GameStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.log.Debug().Err(err).Msg("status poll failed")
		}
		return
	}
	o.gameState(map[string]any{
		"story_completed":  st.StoryCompleted,
		"current_stage":    st.CurrentStage,
		"waiting_for_dice": st.WorldState.WaitingForDice,
	})
}

// Speak asks the server to voice text and returns the audio URL. A newer
// call cancels one still in flight, which then returns ErrSuperseded.
func (o *Orchestrator) Speak(ctx context.Context, text string) (string, error) {
	callCtx, done := o.speech.Begin(ctx)
	defer done()
	res := o.api.Speak(callCtx, text)
	if !res.Success {
		if errors.Is(callCtx.Err(), context.Canceled) && ctx.Err() == nil {
			return "", ErrSuperseded
		}
		return "", requestError("speak", res)
	}
	return res.Data.AudioURL, nil
}
