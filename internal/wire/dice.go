package wire

// DiceRequirement is a roll the server demands before narration continues.
type DiceRequirement struct {
	Expression      string `json:"expression"`
	Purpose         string `json:"purpose"`
	DC              *int   `json:"dc,omitempty"`
	AbilityModifier int    `json:"ability_modifier"`
	Advantage       bool   `json:"advantage"`
	Disadvantage    bool   `json:"disadvantage"`
}

// Roll sources recorded on a DiceResult.
const (
	SourceServer         = "server"
	SourceClientFallback = "client_fallback"
	SourceClient         = "client"
)

// DiceResult is a completed roll. Source distinguishes server-confirmed rolls
// from rolls generated locally. Advantage and Disadvantage are set only when
// a die was actually dropped; the dropped die is kept in Discarded and is not
// part of Total.
type DiceResult struct {
	DiceType     string `json:"dice_type"`
	Rolls        []int  `json:"rolls"`
	Discarded    []int  `json:"discarded,omitempty"`
	Modifier     int    `json:"modifier"`
	Total        int    `json:"total"`
	Advantage    bool   `json:"advantage"`
	Disadvantage bool   `json:"disadvantage"`
	Source       string `json:"source,omitempty"`
}

// Degraded reports whether the result did not come from the server.
func (r DiceResult) Degraded() bool {
	return r.Source == SourceClientFallback
}

// Session is the client-side view of an orchestration session.
type Session struct {
	SessionID              string           `json:"session_id"`
	CharacterID            int              `json:"character_id"`
	IsWaitingForDice       bool             `json:"is_waiting_for_dice"`
	PendingDiceRequirement *DiceRequirement `json:"pending_dice_requirement,omitempty"`
}
