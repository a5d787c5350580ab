package gateway

import (
	"context"
	"sync"
)

// Superseder makes each new call cancel the one still in flight before it.
// It suits long request-scoped helpers such as speech rendering; it is not
// used for actions or dice.
type Superseder struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Begin cancels any previous call and returns a context for the new one.
// The returned done func releases the slot; it is safe to call after the
// call has already been superseded.
func (s *Superseder) Begin(ctx context.Context) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	mine := s.seq
	s.cancel = cancel
	s.mu.Unlock()
	return callCtx, func() {
		s.mu.Lock()
		if s.seq == mine {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the call in flight, if any.
func (s *Superseder) Cancel() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}
