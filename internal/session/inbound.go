package session

import (
	"github.com/gaspardpetit/questlink/internal/metrics"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// attach subscribes to inbound envelopes once per push-channel lifetime.
func (o *Orchestrator) attach() {
	o.mu.Lock()
	if len(o.subs) > 0 || o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	routes := []struct {
		name string
		fn   func(wire.Envelope)
	}{
		{wire.TypeChatMessage, o.onChatMessage},
		{wire.TypeGameStateUpdate, o.onGameStateUpdate},
		{wire.TypeCharacterUpdate, o.onCharacterUpdate},
		{wire.TypeSceneChange, o.onSceneChange},
		{wire.TypeSystemNotification, o.onSystemNotification},
	}
	subs := make([]subscription, 0, len(routes))
	for _, r := range routes {
		subs = append(subs, subscription{name: r.name, id: o.push.On(r.name, r.fn)})
	}

	o.mu.Lock()
	if len(o.subs) > 0 {
		o.mu.Unlock()
		for _, s := range subs {
			o.push.Off(s.name, s.id)
		}
		return
	}
	o.subs = subs
	o.mu.Unlock()
}

func (o *Orchestrator) malformed(env wire.Envelope, err error) {
	metrics.RecordMalformedInbound()
	o.log.Warn().Str("type", env.Type).Err(err).Msg("dropping malformed push payload")
}

// onChatMessage publishes pushed messages, skipping those already published
// from a request/response call.
func (o *Orchestrator) onChatMessage(env wire.Envelope) {
	var msg wire.ChatMessage
	if err := env.Decode(&msg); err != nil {
		o.malformed(env, err)
		return
	}
	if msg.ID == "" || msg.Content == "" {
		o.log.Warn().Str("type", env.Type).Msg("dropping chat message without id or content")
		return
	}
	if o.seen.has(msg.ID) {
		return
	}
	if msg.Type == "" {
		msg.Type = wire.MessageNarration
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = env.Timestamp
	}
	o.publish(msg)
}

func (o *Orchestrator) onGameStateUpdate(env wire.Envelope) {
	var update map[string]any
	if err := env.Decode(&update); err != nil {
		o.malformed(env, err)
		return
	}
	o.gameState(update)
}

func (o *Orchestrator) onCharacterUpdate(env wire.Envelope) {
	var update map[string]any
	if err := env.Decode(&update); err != nil {
		o.malformed(env, err)
		return
	}
	o.characterState(update)
}

func (o *Orchestrator) onSceneChange(env wire.Envelope) {
	var scene wire.SceneChange
	if err := env.Decode(&scene); err != nil {
		o.malformed(env, err)
		return
	}
	o.gameState(map[string]any{"scene": scene})
}

func (o *Orchestrator) onSystemNotification(env wire.Envelope) {
	var n wire.SystemNotification
	if err := env.Decode(&n); err != nil {
		o.malformed(env, err)
		return
	}
	if n.Message == "" {
		return
	}
	meta := map[string]any{}
	if n.Level != "" {
		meta["level"] = n.Level
	}
	o.systemMessage(n.Message, meta)
}
