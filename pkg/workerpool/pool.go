package workerpool

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrPoolStopped is returned by Submit after Stop has been called.
	ErrPoolStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned by Submit when the task queue has no room.
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Config holds configuration for the Pool.
type Config struct {
	Workers       int
	QueueCapacity int
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       20,
		QueueCapacity: 5000,
	}
}

// Pool runs submitted tasks on a fixed set of goroutines.
type Pool struct {
	config Config
	logger zerolog.Logger

	tasks    chan func()
	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Pool and starts its workers. Zero or negative settings fall
// back to DefaultConfig.
func New(cfg Config, logger zerolog.Logger) *Pool {
	logger = logger.With().Str("component", "WorkerPool").Logger()
	if cfg.Workers <= 0 {
		defaultCfg := DefaultConfig()
		logger.Warn().
			Int("provided_workers", cfg.Workers).
			Int("default_workers", defaultCfg.Workers).
			Msg("Workers was zero or negative, applying default value.")
		cfg.Workers = defaultCfg.Workers
	}
	if cfg.QueueCapacity <= 0 {
		defaultCfg := DefaultConfig()
		logger.Warn().
			Int("provided_capacity", cfg.QueueCapacity).
			Int("default_capacity", defaultCfg.QueueCapacity).
			Msg("QueueCapacity was zero or negative, applying default value.")
		cfg.QueueCapacity = defaultCfg.QueueCapacity
	}

	p := &Pool{
		config: cfg,
		logger: logger,
		tasks:  make(chan func(), cfg.QueueCapacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	logger.Info().Int("workers", cfg.Workers).Int("queue_capacity", cfg.QueueCapacity).Msg("Worker pool started")
	return p
}

func (p *Pool) work(workerID int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(workerID, task)
	}
	p.logger.Debug().Int("worker_id", workerID).Msg("Task channel closed, worker stopping")
}

func (p *Pool) run(workerID int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("worker_id", workerID).Interface("panic", r).Msg("Recovered from panic in task")
		}
	}()
	task()
}

// Submit queues task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new tasks, lets the workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info().Msg("Stopping worker pool, draining queued tasks...")
		p.mu.Lock()
		p.stopped = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
		p.logger.Info().Msg("Worker pool stopped.")
	})
}
