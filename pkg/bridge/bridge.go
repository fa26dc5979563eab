package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/illmade-knight/go-tdbridge/pkg/config"
	"github.com/illmade-knight/go-tdbridge/pkg/dispatch"
	"github.com/illmade-knight/go-tdbridge/pkg/executor"
	"github.com/illmade-knight/go-tdbridge/pkg/journal"
	"github.com/illmade-knight/go-tdbridge/pkg/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	registerer     prometheus.Registerer
	factory        executor.Factory
	tracerProvider trace.TracerProvider
}

// Option customizes New.
type Option func(*options)

// WithRegisterer registers dispatch metrics with r instead of the default registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithFactory replaces the backend chosen from configuration.
func WithFactory(f executor.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithTracerProvider sets the provider for dispatch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// Bridge owns the process-wide backend and everything built on it. It is
// constructed once and shut down once.
type Bridge struct {
	cfg         *config.Config
	backend     *executor.Lazy
	journal     *journal.RedisJournal
	coordinator *dispatch.Coordinator
	logger      zerolog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires the bridge from a validated configuration. The task executor is
// owned by the caller and must outlive the bridge.
func New(ctx context.Context, cfg *config.Config, tasks dispatch.TaskExecutor, logger zerolog.Logger, opts ...Option) (*Bridge, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.With().Str("component", "Bridge").Logger()

	coder, err := cfg.Coder()
	if err != nil {
		return nil, err
	}
	if o.factory == nil {
		mode, err := cfg.BackendMode()
		if err != nil {
			return nil, err
		}
		o.factory, err = executor.NewFactory(mode, cfg.PooledExecutorConfig(), cfg.HTTPExecutorConfig(), logger)
		if err != nil {
			return nil, err
		}
	}

	metrics, err := dispatch.NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	b := &Bridge{
		cfg:     cfg,
		backend: executor.NewLazy(o.factory),
		logger:  logger,
	}

	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(metrics)}
	if o.tracerProvider != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithTracerProvider(o.tracerProvider))
	}
	if jcfg := cfg.JournalRedisConfig(); jcfg != nil {
		b.journal, err = journal.NewRedisJournal(ctx, jcfg, logger)
		if err != nil {
			return nil, err
		}
		dispatchOpts = append(dispatchOpts,
			dispatch.WithJournal(b.journal),
			dispatch.WithJournalTimeout(cfg.JournalTimeout()),
		)
	}

	renderer := render.New(render.Config{
		Template:  cfg.SQL.InsertTemplate,
		Coder:     coder,
		Lowercase: cfg.SQL.LowercaseTemplate,
	})
	b.coordinator = dispatch.NewCoordinator(
		dispatch.Config{Topic: cfg.Topic, Timeout: cfg.DispatchTimeout()},
		renderer, b.backend, tasks, logger, dispatchOpts...,
	)
	return b, nil
}

// Bootstrap opens the backend and runs the configured create statements.
// Any failure here should stop the process.
func (b *Bridge) Bootstrap(ctx context.Context) error {
	if err := b.backend.Init(ctx); err != nil {
		return err
	}
	for _, stmt := range []string{b.cfg.SQL.CreateDatabase, b.cfg.SQL.CreateTable} {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := b.backend.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap statement failed: %w", err)
		}
		b.logger.Info().Str("sql", stmt).Msg("Bootstrap statement executed")
	}
	return nil
}

// Coordinator returns the coordinator that publish events are handed to.
func (b *Bridge) Coordinator() *dispatch.Coordinator {
	return b.coordinator
}

// Shutdown closes the backend and the journal. Later calls return the first result.
func (b *Bridge) Shutdown() error {
	b.shutdownOnce.Do(func() {
		b.logger.Info().Msg("Shutting down bridge...")
		var errs []error
		if err := b.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close backend: %w", err))
		}
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
			}
		}
		b.shutdownErr = errors.Join(errs...)
		b.logger.Info().Msg("Bridge shut down.")
	})
	return b.shutdownErr
}
