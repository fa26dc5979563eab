package executor

import (
	"context"
	"fmt"
	"sync"
)

// Lazy defers construction of an Executor until the first Execute. Every
// caller shares the same instance and Close runs exactly once.
type Lazy struct {
	factory Factory

	mu     sync.Mutex
	exec   Executor
	err    error
	closed bool
}

// NewLazy wraps factory. The factory is not called here.
func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) get(ctx context.Context) (Executor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.exec != nil || l.err != nil {
		return l.exec, l.err
	}
	e, err := l.factory(ctx)
	if err != nil {
		l.err = fmt.Errorf("failed to initialize executor: %w", err)
		return nil, l.err
	}
	l.exec = e
	return e, nil
}

// Init builds the backend now instead of on first Execute.
func (l *Lazy) Init(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Execute initializes the backend if needed and runs statement on it.
// An initialization error is remembered and returned on every later call.
func (l *Lazy) Execute(ctx context.Context, statement string) error {
	e, err := l.get(ctx)
	if err != nil {
		return err
	}
	return e.Execute(ctx, statement)
}

// Initialized reports whether the backend has been built.
func (l *Lazy) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exec != nil
}

// Close closes the backend if it was ever built. Later calls are no-ops.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.exec == nil {
		return nil
	}
	return l.exec.Close()
}
