// Package wire defines the data exchanged with the game server, both over the
// push channel and through request/response calls.
package wire

import (
	"encoding/json"
	"time"
)

// ConnectionStatus is the lifecycle state of the push channel.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Push channel envelope types.
const (
	TypeChatMessage        = "chat_message"
	TypeGameStateUpdate    = "game_state_update"
	TypeCharacterUpdate    = "character_update"
	TypeSceneChange        = "scene_change"
	TypeSystemNotification = "system_notification"
	TypeDiceRoll           = "dice_roll"
	TypePing               = "ping"
	TypePong               = "pong"

	// TypeConnection is synthesized locally for lifecycle events; the server
	// never sends it.
	TypeConnection = "connection"
	// TypeAny is emitted for every inbound envelope in addition to its type.
	TypeAny = "message"
)

// Envelope is the unit written to and read from the push channel.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals data into an envelope stamped with the current time.
func NewEnvelope(typ string, data any) (Envelope, error) {
	env := Envelope{Type: typ, Timestamp: time.Now().UTC()}
	if data == nil {
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = b
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// ConnectionEvent is the payload of a synthesized connection envelope.
// Status is one of connected, disconnected, error, failed or reconnecting.
type ConnectionEvent struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// Connection event statuses. EventFailed marks exhausted reconnection.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventFailed       = "failed"
	EventReconnecting = "reconnecting"
)

// SceneChange announces a new scene.
type SceneChange struct {
	SceneID     string `json:"scene_id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// SystemNotification carries an out-of-band notice from the server.
type SystemNotification struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}
