package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gaspardpetit/questlink/internal/audit"
	"github.com/gaspardpetit/questlink/internal/dice"
	"github.com/gaspardpetit/questlink/internal/gateway"
	"github.com/gaspardpetit/questlink/internal/metrics"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// RollDice asks the server to roll spec. When the server cannot be reached
// or fails internally the roll is made locally and tagged
// client_fallback, so the player always gets a result.
func (o *Orchestrator) RollDice(ctx context.Context, spec dice.Spec) (wire.DiceResult, error) {
	n, err := spec.Notation()
	if err != nil {
		return wire.DiceResult{}, err
	}

	var result wire.DiceResult
	res := o.api.RollDice(ctx, wire.RollRequest{
		DiceType:     n.DiceType(),
		Count:        n.Count,
		Modifier:     n.Modifier,
		Advantage:    spec.Advantage,
		Disadvantage: spec.Disadvantage,
	})
	switch {
	case res.Success:
		result = wire.DiceResult{
			DiceType:     n.DiceType(),
			Rolls:        res.Data.IndividualRolls,
			Discarded:    res.Data.Discarded,
			Modifier:     n.Modifier,
			Total:        res.Data.Total,
			Advantage:    res.Data.Advantage,
			Disadvantage: res.Data.Disadvantage,
			Source:       wire.SourceServer,
		}
		if result.Total == 0 && len(result.Rolls) > 0 {
			result.Total = dice.Total(result.Rolls, result.Modifier)
		}
		if (spec.Advantage || spec.Disadvantage) && !result.Advantage && !result.Disadvantage {
			o.log.Debug().Str("dice", n.String()).Msg("server rolled without advantage or disadvantage")
		}
	case res.Kind == gateway.KindTransport || res.Status >= http.StatusInternalServerError:
		result, err = dice.RollLocal(spec)
		if err != nil {
			return wire.DiceResult{}, err
		}
		o.log.Warn().Str("dice", n.String()).Str("error", res.Error).Int("total", result.Total).Msg("server roll unavailable, rolled locally")
	default:
		return wire.DiceResult{}, requestError("roll-dice", res)
	}

	metrics.RecordDiceRoll(result.Source)
	o.record(ctx, result.Source, "", result)
	o.mirror(wire.TypeDiceRoll, result)
	return result, nil
}

// RollRequirement rolls the pending requirement locally, including its
// ability modifier and advantage.
func (o *Orchestrator) RollRequirement() (wire.DiceResult, error) {
	req, ok := o.PendingRequirement()
	if !ok {
		return wire.DiceResult{}, ErrNotWaitingForDice
	}
	spec, err := dice.SpecFor(req)
	if err != nil {
		return wire.DiceResult{}, err
	}
	return dice.RollSeeded(spec)
}

// FulfillDiceRequirement submits result for the pending requirement. On
// success the requirement is cleared and the roll, the narration and any
// state changes are published. On failure the requirement stays pending so
// the player can roll again.
func (o *Orchestrator) FulfillDiceRequirement(ctx context.Context, result wire.DiceResult) (wire.FulfillResponse, error) {
	if o.isClosed() {
		return wire.FulfillResponse{}, ErrClosed
	}
	sid, err := o.sessionID()
	if err != nil {
		return wire.FulfillResponse{}, err
	}
	if len(result.Rolls) == 0 {
		return wire.FulfillResponse{}, fmt.Errorf("fulfill: %w", dice.ErrInvalidSpec)
	}
	if total := dice.Total(result.Rolls, result.Modifier); result.Total != total {
		o.log.Warn().Int("reported", result.Total).Int("computed", total).Msg("dice total does not match rolls, using computed total")
		result.Total = total
	}
	purpose := ""
	if req, ok := o.PendingRequirement(); ok {
		purpose = req.Purpose
	}

	res := o.api.FulfillDice(ctx, sid, wire.FulfillRequest{DiceResults: []wire.DiceResult{result}})
	if !res.Success {
		o.log.Warn().Str("session", sid).Str("kind", string(res.Kind)).Str("error", res.Error).Msg("dice fulfillment failed")
		o.systemMessage(
			fmt.Sprintf("Your roll could not be submitted: %s. Please roll again.", res.Error),
			map[string]any{"error": res.Error, "purpose": purpose},
		)
		return wire.FulfillResponse{}, requestError("fulfill-dice", res)
	}

	o.mu.Lock()
	o.setPending(nil)
	o.mu.Unlock()

	if echo := res.Data.Summary; echo != nil && echo.Total != result.Total {
		o.log.Warn().Str("session", sid).Int("submitted", result.Total).Int("echoed", echo.Total).Msg("server echoed a different dice total")
	}
	meta := map[string]any{"total": result.Total, "rolls": result.Rolls, "source": result.Source}
	if purpose != "" {
		meta["purpose"] = purpose
	}
	content := dice.Describe(result)
	if purpose != "" {
		content = purpose + ": " + content
	}
	o.publish(wire.NewChatMessage(wire.MessageDiceRoll, content, meta))
	o.mirror(wire.TypeDiceRoll, result)
	o.record(ctx, audit.SourceFulfillment, purpose, result)

	if res.Data.NarrativeText != "" {
		var narrMeta map[string]any
		if len(res.Data.NextActions) > 0 {
			narrMeta = map[string]any{"next_actions": res.Data.NextActions}
		}
		narration := wire.NewChatMessage(wire.MessageNarration, res.Data.NarrativeText, narrMeta)
		o.publish(narration)
		o.mirror(wire.TypeChatMessage, narration)
	}
	for _, sc := range res.Data.StateChanges {
		if sc.Target == wire.TargetCharacter {
			o.characterState(sc.Changes)
		} else {
			o.gameState(sc.Changes)
		}
	}
	return res.Data, nil
}

func (o *Orchestrator) record(ctx context.Context, source, purpose string, result wire.DiceResult) {
	sid := o.opts.FallbackID
	if s, ok := o.Session(); ok {
		sid = s.SessionID
	}
	if err := o.opts.Audit.Record(ctx, audit.NewEntry(sid, source, purpose, result)); err != nil {
		o.log.Warn().Err(err).Str("source", source).Msg("audit record failed")
	}
}
