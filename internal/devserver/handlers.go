package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gaspardpetit/questlink/internal/dice"
	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/wire"
)

const defaultDC = 12

type gameSession struct {
	id          string
	userID      string
	characterID int
	stage       string
	turn        int
	pending     *wire.DiceRequirement
}

func (g *gameSession) status() wire.GameStatus {
	st := wire.GameStatus{CurrentStage: g.stage}
	if g.pending != nil {
		req := *g.pending
		st.WorldState = wire.WorldState{WaitingForDice: true, PendingDiceRequirement: &req}
	}
	return st
}

// Session returns the server view of a session, for tests.
func (s *Server) Session(id string) (wire.GameStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.sessions[id]
	if !ok {
		return wire.GameStatus{}, false
	}
	return g.status(), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*gameSession, bool) {
	id := chi.URLParam(r, "id")
	g, ok := s.sessions[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
	}
	return g, ok
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req wire.StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	g := &gameSession{id: uuid.NewString(), userID: req.UserID, characterID: req.CharacterID, stage: "opening"}
	s.mu.Lock()
	s.sessions[g.id] = g
	s.mu.Unlock()
	logx.Log.Info().Str("session", g.id).Str("user", req.UserID).Int("character", req.CharacterID).Msg("session started")
	writeJSON(w, http.StatusCreated, wire.StartSessionResponse{
		SessionID:     g.id,
		NarrativeText: s.cfg.OpeningNarrative,
		ResultType:    "narration",
	})
}

func (s *Server) submitAction(w http.ResponseWriter, r *http.Request) {
	var req wire.ActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	s.mu.Lock()
	g, ok := s.lookup(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	if g.pending != nil {
		pending := *g.pending
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, wire.ErrorResponse{
			Error:                  "session is waiting for dice: " + pending.Purpose,
			PendingDiceRequirement: &pending,
		})
		return
	}
	g.turn++
	turn := g.turn
	purpose, needsRoll := s.dicePurpose(content)
	if needsRoll {
		dc := defaultDC
		g.pending = &wire.DiceRequirement{Expression: "1d20", Purpose: purpose, DC: &dc}
		g.stage = "awaiting_roll"
	}
	s.mu.Unlock()

	player := wire.NewChatMessage(wire.ActionMessageType(req.Type), content, map[string]any{"character_id": req.CharacterID})
	narration := fmt.Sprintf("You %s. The world shifts in response.", strings.TrimSuffix(content, "."))
	if needsRoll {
		narration = fmt.Sprintf("Fate hangs in the balance. Make a %s.", purpose)
	}
	reply := wire.NewChatMessage(wire.MessageNarration, narration, nil)
	updates := map[string]any{"turn": turn, "waiting_for_dice": needsRoll}
	writeJSON(w, http.StatusOK, wire.ActionResponse{
		PlayerMessage:    player,
		AIResponse:       &reply,
		GameStateUpdates: updates,
	})
	if needsRoll {
		s.broadcastOrLog(wire.TypeGameStateUpdate, updates)
	}
}

func (s *Server) fulfillDice(w http.ResponseWriter, r *http.Request) {
	var req wire.FulfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.DiceResults) == 0 || len(req.DiceResults[0].Rolls) == 0 {
		writeError(w, http.StatusBadRequest, "dice_results must contain a roll")
		return
	}
	result := req.DiceResults[0]
	result.Total = dice.Total(result.Rolls, result.Modifier)

	s.mu.Lock()
	g, ok := s.lookup(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	pending := g.pending
	g.pending = nil
	g.stage = "exploration"
	s.mu.Unlock()

	resp := wire.FulfillResponse{Summary: &result}
	switch {
	case pending == nil:
		resp.NarrativeText = "The dice clatter, but nothing hinges on them."
	case pending.DC != nil && result.Total >= *pending.DC:
		resp.NarrativeText = fmt.Sprintf("%s succeeds with a %d.", pending.Purpose, result.Total)
		resp.StateChanges = []wire.StateChange{{Target: wire.TargetGame, Changes: map[string]any{"last_check": pending.Purpose, "success": true}}}
		resp.NextActions = []string{"press on", "look around"}
	default:
		resp.NarrativeText = fmt.Sprintf("%s fails with a %d.", pending.Purpose, result.Total)
		resp.StateChanges = []wire.StateChange{
			{Target: wire.TargetGame, Changes: map[string]any{"last_check": pending.Purpose, "success": false}},
			{Target: wire.TargetCharacter, Changes: map[string]any{"morale": "shaken"}},
		}
		resp.NextActions = []string{"try something else"}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) gameStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	g, ok := s.lookup(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	st := g.status()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) rollDice(w http.ResponseWriter, r *http.Request) {
	var req wire.RollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	spec := dice.Spec{
		DiceType:     req.DiceType,
		Count:        req.Count,
		Modifier:     req.Modifier,
		Advantage:    req.Advantage,
		Disadvantage: req.Disadvantage,
	}
	s.mu.Lock()
	res, err := dice.Roll(s.rng, spec)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wire.RollResponse{
		Result:          res.Total - res.Modifier,
		Total:           res.Total,
		IndividualRolls: res.Rolls,
		Discarded:       res.Discarded,
		Advantage:       res.Advantage,
		Disadvantage:    res.Disadvantage,
	})
}

func (s *Server) speak(w http.ResponseWriter, r *http.Request) {
	var req wire.SpeechRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, wire.SpeechResponse{AudioURL: "/audio/" + uuid.NewString() + ".mp3"})
}
