package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Executor runs a single rendered SQL statement against the backend.
// Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, statement string) error
	Close() error
}

// Factory builds an Executor. It is invoked at most once by Lazy.
type Factory func(ctx context.Context) (Executor, error)

// Mode selects the backend variant.
type Mode string

const (
	ModePooled Mode = "pooled"
	ModeHTTP   Mode = "http"
)

var (
	// ErrClosed is returned by Execute once the executor has been closed.
	ErrClosed = errors.New("executor is closed")
	// ErrUnknownMode is returned by ParseMode for unsupported names.
	ErrUnknownMode = errors.New("unknown backend mode")
)

// ParseMode maps a configuration value onto a Mode. "jdbc" is accepted as an
// alias of pooled.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pooled", "jdbc":
		return ModePooled, nil
	case "http":
		return ModeHTTP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// NewFactory returns a Factory for the configured mode. Only the config that
// matches the mode is used.
func NewFactory(mode Mode, pooled PooledConfig, httpCfg HTTPConfig, logger zerolog.Logger) (Factory, error) {
	switch mode {
	case ModePooled:
		return func(ctx context.Context) (Executor, error) {
			return NewPooledExecutor(ctx, pooled, logger)
		}, nil
	case ModeHTTP:
		return func(_ context.Context) (Executor, error) {
			return NewHTTPExecutor(httpCfg, logger)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
