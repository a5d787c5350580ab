package wire

// StartSessionRequest opens an orchestration session.
type StartSessionRequest struct {
	UserID      string `json:"user_id"`
	CharacterID int    `json:"character_id"`
}

// StartSessionResponse carries the new session id and optional opening text.
type StartSessionResponse struct {
	SessionID     string `json:"session_id"`
	NarrativeText string `json:"narrative_text,omitempty"`
	ResultType    string `json:"result_type,omitempty"`
}

// ActionRequest submits a player action.
type ActionRequest struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	CharacterID int    `json:"character_id"`
}

// ActionResponse echoes the player message and optionally carries the
// generated continuation. AIError is set when no continuation was produced.
type ActionResponse struct {
	PlayerMessage    ChatMessage    `json:"player_message"`
	AIResponse       *ChatMessage   `json:"ai_response,omitempty"`
	AIError          string         `json:"ai_error,omitempty"`
	GameStateUpdates map[string]any `json:"game_state_updates,omitempty"`
}

// RollRequest asks the server to roll dice.
type RollRequest struct {
	DiceType     string `json:"dice_type"`
	Count        int    `json:"count"`
	Modifier     int    `json:"modifier"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
}

// RollResponse is the server's roll. The advantage flags report what the
// server applied, not what was asked.
type RollResponse struct {
	Result          int   `json:"result"`
	Total           int   `json:"total"`
	IndividualRolls []int `json:"individual_rolls"`
	Discarded       []int `json:"discarded,omitempty"`
	Advantage       bool  `json:"advantage,omitempty"`
	Disadvantage    bool  `json:"disadvantage,omitempty"`
}

// FulfillRequest resolves a pending dice requirement.
type FulfillRequest struct {
	DiceResults []DiceResult `json:"dice_results"`
}

// State change targets.
const (
	TargetGame      = "game"
	TargetCharacter = "character"
)

// StateChange is a delta applied to a game or character projection.
type StateChange struct {
	Target  string         `json:"target"`
	Changes map[string]any `json:"changes"`
}

// FulfillResponse is the continuation produced after a roll.
type FulfillResponse struct {
	NarrativeText string        `json:"narrative_text,omitempty"`
	StateChanges  []StateChange `json:"state_changes,omitempty"`
	NextActions   []string      `json:"next_actions,omitempty"`
	Summary       *DiceResult   `json:"dice_result,omitempty"`
}

// WorldState is the blocking-relevant part of the server state.
type WorldState struct {
	WaitingForDice         bool             `json:"waiting_for_dice"`
	PendingDiceRequirement *DiceRequirement `json:"pending_dice_requirement,omitempty"`
}

// GameStatus is the server's authoritative view of a session.
type GameStatus struct {
	StoryCompleted bool       `json:"story_completed"`
	CurrentStage   string     `json:"current_stage"`
	WorldState     WorldState `json:"world_state"`
}

// SpeechRequest asks the server to voice a piece of text.
type SpeechRequest struct {
	Text string `json:"text"`
}

// SpeechResponse points at the rendered audio.
type SpeechResponse struct {
	AudioURL string `json:"audio_url"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error                  string           `json:"error"`
	PendingDiceRequirement *DiceRequirement `json:"pending_dice_requirement,omitempty"`
}
