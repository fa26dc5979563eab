package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome is the final state of a PendingOperation.
type Outcome int32

const (
	Pending Outcome = iota
	// Success means the backend call finished, with or without an error,
	// before the deadline.
	Success
	// Failed means the deadline passed first, or the task was never run.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// PendingOperation is the single-shot handle returned to the broker for an
// event whose statement is being executed asynchronously. It resolves
// exactly once.
type PendingOperation struct {
	id        string
	statement string
	deadline  time.Time

	once    sync.Once
	done    chan struct{}
	outcome atomic.Int32
	timer   *time.Timer
}

func newPendingOperation(statement string, timeout time.Duration) *PendingOperation {
	return &PendingOperation{
		id:        uuid.NewString(),
		statement: statement,
		deadline:  time.Now().Add(timeout),
		done:      make(chan struct{}),
	}
}

func (p *PendingOperation) ID() string          { return p.id }
func (p *PendingOperation) Statement() string   { return p.statement }
func (p *PendingOperation) Deadline() time.Time { return p.deadline }

// Done is closed once the operation resolves.
func (p *PendingOperation) Done() <-chan struct{} {
	return p.done
}

// Outcome returns Pending until the operation resolves.
func (p *PendingOperation) Outcome() Outcome {
	return Outcome(p.outcome.Load())
}

// Resolved reports whether the operation has resolved.
func (p *PendingOperation) Resolved() bool {
	return p.Outcome() != Pending
}

// Wait blocks until the operation resolves or ctx is done.
func (p *PendingOperation) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.Outcome(), nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// stopTimer disarms the timeout. The timer is assigned before the task is
// handed to the executor, so callers on the task side may read it freely.
func (p *PendingOperation) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// resolve sets the outcome if nothing has yet. It reports whether this call won.
func (p *PendingOperation) resolve(o Outcome) bool {
	won := false
	p.once.Do(func() {
		p.outcome.Store(int32(o))
		close(p.done)
		won = true
	})
	return won
}
