package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gaspardpetit/questlink/internal/wire"
)

const sessionsPath = "/api/orchestration/sessions"

func sessionPath(sessionID, suffix string) string {
	return sessionsPath + "/" + url.PathEscape(sessionID) + suffix
}

// StartSession opens an orchestration session.
func (g *Gateway) StartSession(ctx context.Context, req wire.StartSessionRequest) Result[wire.StartSessionResponse] {
	return Call[wire.StartSessionResponse](ctx, g, Request{Name: "start-session", Method: http.MethodPost, Path: sessionsPath, Body: req})
}

// SubmitAction submits a player action to a session.
func (g *Gateway) SubmitAction(ctx context.Context, sessionID string, req wire.ActionRequest) Result[wire.ActionResponse] {
	return Call[wire.ActionResponse](ctx, g, Request{Name: "submit-action", Method: http.MethodPost, Path: sessionPath(sessionID, "/actions"), Body: req})
}

// RollDice asks the server for a freeform roll.
func (g *Gateway) RollDice(ctx context.Context, req wire.RollRequest) Result[wire.RollResponse] {
	return Call[wire.RollResponse](ctx, g, Request{Name: "roll-dice", Method: http.MethodPost, Path: "/api/dice/roll", Body: req})
}

// FulfillDice resolves the session's pending dice requirement.
func (g *Gateway) FulfillDice(ctx context.Context, sessionID string, req wire.FulfillRequest) Result[wire.FulfillResponse] {
	return Call[wire.FulfillResponse](ctx, g, Request{Name: "fulfill-dice", Method: http.MethodPost, Path: sessionPath(sessionID, "/dice"), Body: req})
}

// GameStatus reads the server's view of a session.
func (g *Gateway) GameStatus(ctx context.Context, sessionID string) Result[wire.GameStatus] {
	return Call[wire.GameStatus](ctx, g, Request{Name: "get-status", Method: http.MethodGet, Path: sessionPath(sessionID, "/status")})
}

// Speak asks the server to voice text.
func (g *Gateway) Speak(ctx context.Context, text string) Result[wire.SpeechResponse] {
	return Call[wire.SpeechResponse](ctx, g, Request{Name: "speak", Method: http.MethodPost, Path: "/api/speech", Body: wire.SpeechRequest{Text: text}})
}
