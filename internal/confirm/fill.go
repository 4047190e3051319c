package confirm

import (
	"context"
	"sync"

	"github.com/sells-group/autofill/internal/model"
)

// FillExecutor writes released values into the form. It only ever receives
// approved or edited values.
type FillExecutor interface {
	Fill(ctx context.Context, sessionID string, fills []model.FillInstruction) error
}

// FillFunc adapts a function to FillExecutor.
type FillFunc func(ctx context.Context, sessionID string, fills []model.FillInstruction) error

// Fill implements FillExecutor.
func (f FillFunc) Fill(ctx context.Context, sessionID string, fills []model.FillInstruction) error {
	return f(ctx, sessionID, fills)
}

// FillQueue holds released values until the browser side drains them.
type FillQueue struct {
	mu      sync.Mutex
	pending map[string][]model.FillInstruction
}

// NewFillQueue returns an empty queue.
func NewFillQueue() *FillQueue {
	return &FillQueue{pending: make(map[string][]model.FillInstruction)}
}

// Fill implements FillExecutor by queueing fills for sessionID.
func (q *FillQueue) Fill(_ context.Context, sessionID string, fills []model.FillInstruction) error {
	if len(fills) == 0 {
		return nil
	}
	q.mu.Lock()
	q.pending[sessionID] = append(q.pending[sessionID], fills...)
	q.mu.Unlock()
	return nil
}

// Drain returns and removes every queued fill for sessionID.
func (q *FillQueue) Drain(sessionID string) []model.FillInstruction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[sessionID]
	delete(q.pending, sessionID)
	return out
}
