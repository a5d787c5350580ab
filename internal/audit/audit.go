// Package audit keeps a trail of dice rolls so that server-confirmed rolls
// can be told apart from rolls generated on the degraded client path.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/questlink/internal/wire"
)

// Entry sources.
const (
	SourceServer         = wire.SourceServer
	SourceClientFallback = wire.SourceClientFallback
	SourceFulfillment    = "fulfillment"
)

// Entry is one recorded roll.
type Entry struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Source     string          `json:"source"`
	Purpose    string          `json:"purpose,omitempty"`
	Result     wire.DiceResult `json:"result"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// NewEntry stamps a roll with an id and the current time.
func NewEntry(sessionID, source, purpose string, result wire.DiceResult) Entry {
	return Entry{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Source:     source,
		Purpose:    purpose,
		Result:     result,
		RecordedAt: time.Now().UTC(),
	}
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, sessionID string) ([]Entry, error)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries[e.SessionID] = append(m.entries[e.SessionID], e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, sessionID string) ([]Entry, error) {
	m.mu.Lock()
	out := append([]Entry(nil), m.entries[sessionID]...)
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}
