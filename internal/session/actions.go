package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/metrics"
	"github.com/gaspardpetit/questlink/internal/wire"
)

const waitingForDiceMarker = "waiting for dice"

// genericRequirement is offered when the server blocks an action without
// saying which roll it wants.
var genericRequirement = wire.DiceRequirement{Expression: "1d20", Purpose: "Dice roll"}

// SendPlayerAction submits a player action. kind is "action", "speech" or
// "thought".
//
// The server's status is read first. If the session is waiting for dice the
// action is not submitted: the player is told which roll is needed,
// OnDiceRequired fires, and a *BlockedActionError is returned. A 409
// "waiting for dice" answer to the submit itself is handled the same way.
//
// On success the echoed player message is published immediately and the
// narration that answers it after the continuation delay.
func (o *Orchestrator) SendPlayerAction(ctx context.Context, kind, content string) (wire.ChatMessage, error) {
	if o.isClosed() {
		return wire.ChatMessage{}, ErrClosed
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return wire.ChatMessage{}, fmt.Errorf("empty %s", kind)
	}
	sid, err := o.sessionID()
	if err != nil {
		return wire.ChatMessage{}, err
	}
	o.attach()

	if req, blocked := o.checkBlocked(ctx, sid); blocked {
		return wire.ChatMessage{}, o.block(req, content)
	}

	msgType := wire.ActionMessageType(kind)
	res := o.api.SubmitAction(ctx, sid, wire.ActionRequest{Type: string(msgType), Content: content, CharacterID: o.opts.CharacterID})
	if !res.Success {
		if req, ok := blockedBySubmit(res); ok {
			return wire.ChatMessage{}, o.block(req, content)
		}
		o.log.Warn().Str("session", sid).Str("kind", string(res.Kind)).Str("error", res.Error).Msg("action failed")
		return wire.ChatMessage{}, requestError("submit-action", res)
	}

	player := res.Data.PlayerMessage
	if player.ID == "" {
		player = wire.NewChatMessage(msgType, content, nil)
	}
	if player.Type == "" {
		player.Type = msgType
	}
	if player.Content == "" {
		player.Content = content
	}
	o.publish(player)
	o.mirror(wire.TypeChatMessage, player)

	if res.Data.GameStateUpdates != nil {
		o.gameState(res.Data.GameStateUpdates)
	}
	switch {
	case res.Data.AIResponse != nil:
		reply := *res.Data.AIResponse
		if reply.ID == "" {
			reply.ID = wire.NewChatMessage(reply.Type, reply.Content, nil).ID
		}
		if reply.Type == "" {
			reply.Type = wire.MessageNarration
		}
		o.publishLater(reply, true)
	case res.Data.AIError != "":
		o.log.Warn().Str("session", sid).Str("error", res.Data.AIError).Msg("no continuation for action")
	}
	return player, nil
}

// checkBlocked reads the server status before an action. A failed read is
// not fatal; the local projection decides instead, and the server still
// rejects a blocked submit.
func (o *Orchestrator) checkBlocked(ctx context.Context, sid string) (wire.DiceRequirement, bool) {
	st := o.api.GameStatus(ctx, sid)
	if !st.Success {
		o.log.Warn().Str("session", sid).Str("error", st.Error).Msg("status check before action failed")
		return o.PendingRequirement()
	}
	ws := st.Data.WorldState
	if !ws.WaitingForDice {
		o.mu.Lock()
		o.setPending(nil)
		o.mu.Unlock()
		return wire.DiceRequirement{}, false
	}
	if ws.PendingDiceRequirement != nil {
		return *ws.PendingDiceRequirement, true
	}
	if req, ok := o.PendingRequirement(); ok {
		return req, true
	}
	return genericRequirement, true
}

// blockedBySubmit recognizes a submit rejected because the session waits
// for dice.
func blockedBySubmit(res gateway.Result[wire.ActionResponse]) (wire.DiceRequirement, bool) {
	if res.Kind != gateway.KindApplication {
		return wire.DiceRequirement{}, false
	}
	if res.Detail != nil && res.Detail.PendingDiceRequirement != nil {
		return *res.Detail.PendingDiceRequirement, true
	}
	if !strings.Contains(strings.ToLower(res.Error), waitingForDiceMarker) {
		return wire.DiceRequirement{}, false
	}
	req := genericRequirement
	if purpose := purposeFromError(res.Error); purpose != "" {
		req.Purpose = purpose
	}
	return req, true
}

// purposeFromError extracts "Perception Check" from messages such as
// "session is waiting for dice: Perception Check".
func purposeFromError(msg string) string {
	i := strings.Index(strings.ToLower(msg), waitingForDiceMarker)
	if i < 0 {
		return ""
	}
	rest := strings.TrimSpace(msg[i+len(waitingForDiceMarker):])
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
	return rest
}

// block records the requirement, tells the player, and returns the error.
func (o *Orchestrator) block(req wire.DiceRequirement, content string) error {
	if req.Expression == "" {
		req.Expression = genericRequirement.Expression
	}
	if req.Purpose == "" {
		req.Purpose = genericRequirement.Purpose
	}
	o.mu.Lock()
	o.setPending(&req)
	sid := ""
	if o.session != nil {
		sid = o.session.SessionID
	}
	o.mu.Unlock()

	metrics.RecordBlockedAction()
	o.log.Info().Str("session", sid).Str("purpose", req.Purpose).Str("expression", req.Expression).Msg("action blocked until dice are rolled")
	o.systemMessage(
		fmt.Sprintf("Roll %s for %s before continuing.", req.Expression, req.Purpose),
		map[string]any{"blocked_action": content, "purpose": req.Purpose, "expression": req.Expression},
	)
	o.diceRequired(req)
	return &BlockedActionError{Requirement: req}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
