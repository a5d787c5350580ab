package wire

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a chat message.
type MessageType string

const (
	MessageNarration     MessageType = "narration"
	MessagePlayerAction  MessageType = "player_action"
	MessagePlayerSpeech  MessageType = "player_speech"
	MessagePlayerThought MessageType = "player_thought"
	MessageDiceRoll      MessageType = "dice_roll"
	MessageSystem        MessageType = "system"
)

// ChatMessage is an entry in the conversation shown to the player. Messages
// are never mutated after they are published.
type ChatMessage struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewChatMessage builds a message with a fresh id and the current time.
func NewChatMessage(typ MessageType, content string, metadata map[string]any) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Type:      typ,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// ActionMessageType maps a player action kind ("action", "speech",
// "thought") to the message type used to render it.
func ActionMessageType(kind string) MessageType {
	switch kind {
	case "speech", "say", string(MessagePlayerSpeech):
		return MessagePlayerSpeech
	case "thought", "think", string(MessagePlayerThought):
		return MessagePlayerThought
	default:
		return MessagePlayerAction
	}
}
