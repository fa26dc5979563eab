package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/render"
	"github.com/illmade-knight/go-tdbridge/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds how long a broker hook may stay suspended.
const DefaultTimeout = 10 * time.Second

// DefaultJournalTimeout bounds a single journal write.
const DefaultJournalTimeout = 5 * time.Second

const tracerName = "github.com/illmade-knight/go-tdbridge/pkg/dispatch"

// Backend executes one rendered statement.
type Backend interface {
	Execute(ctx context.Context, statement string) error
}

// TaskExecutor runs tasks off the caller's goroutine. Submit must not block.
type TaskExecutor interface {
	Submit(task func()) error
}

// Journal keeps a record of statements the backend rejected.
type Journal interface {
	Record(ctx context.Context, topic, statement string, cause error) error
}

// Config holds configuration for the Coordinator.
type Config struct {
	// Topic is matched exactly against each event's topic.
	Topic   string
	Timeout time.Duration
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMetrics records dispatch metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithJournal records backend failures into j.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithJournalTimeout bounds each journal write. Non-positive values keep the default.
func WithJournalTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.journalTimeout = d
		}
	}
}

// WithTracerProvider sets the provider used for per-statement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp.Tracer(tracerName) }
}

// Coordinator turns publish events into asynchronously executed statements
// and hands the broker a PendingOperation that resolves within Timeout.
type Coordinator struct {
	cfg      Config
	renderer *render.Renderer
	backend  Backend
	tasks    TaskExecutor
	logger   zerolog.Logger

	metrics        *Metrics
	journal        Journal
	journalTimeout time.Duration
	tracer         trace.Tracer
}

// NewCoordinator creates a Coordinator. The backend and task executor are
// shared and owned by the caller.
func NewCoordinator(cfg Config, renderer *render.Renderer, backend Backend, tasks TaskExecutor, logger zerolog.Logger, opts ...Option) *Coordinator {
	logger = logger.With().Str("component", "DispatchCoordinator").Str("topic", cfg.Topic).Logger()
	if cfg.Timeout <= 0 {
		logger.Warn().
			Dur("provided_timeout", cfg.Timeout).
			Dur("default_timeout", DefaultTimeout).
			Msg("Timeout was zero or negative, applying default value.")
		cfg.Timeout = DefaultTimeout
	}
	c := &Coordinator{
		cfg:      cfg,
		renderer: renderer,
		backend:  backend,
		tasks:    tasks,
		logger:   logger,
		tracer:   otel.GetTracerProvider().Tracer(tracerName),

		journalTimeout: DefaultJournalTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Topic returns the topic this coordinator accepts.
func (c *Coordinator) Topic() string {
	return c.cfg.Topic
}

// OnInboundPublish handles one publish event. It returns nil when the event
// is not dispatched, in which case the broker continues synchronously.
// Otherwise it returns immediately with an operation that resolves Success
// when the backend call finishes, or Failed if Timeout elapses first.
func (c *Coordinator) OnInboundPublish(event types.PublishEvent) *PendingOperation {
	c.metrics.incReceived()
	if event.Topic != c.cfg.Topic {
		c.metrics.incFiltered()
		return nil
	}
	if !event.HasPayload() {
		c.metrics.incDropped(DropEmptyPayload)
		return nil
	}

	statement, err := c.renderer.Render(event)
	if err != nil {
		c.drop(event, err)
		return nil
	}

	op := newPendingOperation(statement, c.cfg.Timeout)
	op.timer = time.AfterFunc(c.cfg.Timeout, func() {
		if op.resolve(Failed) {
			c.metrics.incTimeouts()
			c.logger.Warn().
				Str("op_id", op.id).
				Dur("timeout", c.cfg.Timeout).
				Str("sql", statement).
				Msg("Backend did not complete in time, resolving as failed")
		}
	})

	if err := c.tasks.Submit(func() { c.execute(event.Topic, op) }); err != nil {
		op.stopTimer()
		op.resolve(Failed)
		c.metrics.incRejected()
		c.logger.Error().Err(err).Str("op_id", op.id).Str("sql", statement).Msg("Task executor rejected statement")
		return op
	}
	c.metrics.incDispatched()
	return op
}

func (c *Coordinator) drop(event types.PublishEvent, err error) {
	switch {
	case errors.Is(err, render.ErrBlank):
		c.metrics.incDropped(DropBlank)
	case errors.Is(err, render.ErrEmptyPayload), errors.Is(err, render.ErrNoFields):
		c.metrics.incDropped(DropEmptyPayload)
		c.logger.Debug().Err(err).Str("message_id", event.MessageID).Msg("Event carried nothing to render")
	default:
		c.metrics.incDropped(DropDecode)
		c.logger.Error().Err(err).Str("message_id", event.MessageID).Msg("Failed to decode payload, event dropped")
	}
}

// execute runs on the task executor. The backend call is not bound to the
// operation's deadline.
func (c *Coordinator) execute(topic string, op *PendingOperation) {
	ctx, span := c.tracer.Start(context.Background(), "ExecuteStatement",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("tdbridge.op_id", op.id),
			attribute.String("db.statement", op.statement),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.backend.Execute(ctx, op.statement)
	c.metrics.observeBackend(time.Since(start), err)

	// The hook depends on the backend call alone; resolve before journaling.
	op.stopTimer()
	won := op.resolve(Success)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).Str("op_id", op.id).Str("sql", op.statement).Msg("Backend failed to execute statement")
		c.record(ctx, topic, op, err)
	}

	if !won {
		c.metrics.incLateCompletions()
		span.SetAttributes(attribute.Bool("tdbridge.late", true))
		c.logger.Warn().
			Str("op_id", op.id).
			Dur("elapsed", time.Since(start)).
			AnErr("backend_err", err).
			Msg("Backend completed after the operation timed out")
	}
}

func (c *Coordinator) record(ctx context.Context, topic string, op *PendingOperation, cause error) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.journalTimeout)
	defer cancel()
	if err := c.journal.Record(ctx, topic, op.statement, cause); err != nil {
		c.logger.Warn().Err(err).Str("op_id", op.id).Msg("Failed to journal backend failure")
	}
}
