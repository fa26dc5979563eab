package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	_ "github.com/taosdata/driver-go/v3/taosRestful" // registers "taosRestful"
)

// PooledConfig configures the database/sql backed executor.
type PooledConfig struct {
	// DriverName is a registered database/sql driver: "taosRestful", "pgx" or "mysql".
	DriverName string
	DSN        string
	Username   string
	Password   string

	// Zero sizes take DefaultPooledConfig values.
	PoolInit      int
	PoolMinIdle   int
	PoolMaxActive int

	IdleEvictionInterval time.Duration
	MinIdleTime          time.Duration
	MaxIdleTime          time.Duration
	TestQuery            string
	MaxWait              time.Duration
}

// DefaultPooledConfig mirrors the sizing the bridge has always shipped with.
func DefaultPooledConfig() PooledConfig {
	return PooledConfig{
		DriverName:           "taosRestful",
		PoolInit:             1,
		PoolMinIdle:          3,
		PoolMaxActive:        3,
		IdleEvictionInterval: 3 * time.Second,
		MinIdleTime:          60 * time.Second,
		MaxIdleTime:          90 * time.Second,
		TestQuery:            "select server_status();",
		MaxWait:              10 * time.Second,
	}
}

func (c PooledConfig) withDefaults(logger zerolog.Logger) PooledConfig {
	d := DefaultPooledConfig()
	if c.DriverName == "" {
		c.DriverName = d.DriverName
	}
	if c.PoolInit <= 0 {
		c.PoolInit = d.PoolInit
	}
	if c.PoolMinIdle <= 0 {
		c.PoolMinIdle = d.PoolMinIdle
	}
	if c.PoolMaxActive <= 0 {
		logger.Warn().Int("default_max_active", d.PoolMaxActive).Msg("PoolMaxActive was zero or negative, applying default value.")
		c.PoolMaxActive = d.PoolMaxActive
	}
	if c.IdleEvictionInterval <= 0 {
		c.IdleEvictionInterval = d.IdleEvictionInterval
	}
	if c.MinIdleTime <= 0 {
		c.MinIdleTime = d.MinIdleTime
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = d.MaxIdleTime
	}
	if c.TestQuery == "" {
		c.TestQuery = d.TestQuery
	}
	if c.MaxWait <= 0 {
		logger.Warn().Dur("default_max_wait", d.MaxWait).Msg("MaxWait was zero or negative, applying default value.")
		c.MaxWait = d.MaxWait
	}
	return c
}

func (c PooledConfig) idleCap() int {
	return max(c.PoolMinIdle, c.PoolInit)
}

// PooledExecutor runs statements over a bounded database/sql pool.
type PooledExecutor struct {
	db      *sql.DB
	cfg     PooledConfig
	logger  zerolog.Logger
	release func()

	lastUsed atomic.Int64
	closed   atomic.Bool

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewPooledExecutor opens the pool, warms PoolInit connections and starts
// the idle keeper. Failure to reach the database is returned to the caller.
func NewPooledExecutor(ctx context.Context, cfg PooledConfig, logger zerolog.Logger) (*PooledExecutor, error) {
	logger = logger.With().Str("component", "PooledExecutor").Logger()
	cfg = cfg.withDefaults(logger)

	driverName, dsn, release, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to open %s pool: %w", cfg.DriverName, err)
	}

	p := newPooled(db, cfg, logger, release)
	if err := p.warm(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	p.startKeeper()

	logger.Info().
		Str("driver", cfg.DriverName).
		Int("init", cfg.PoolInit).
		Int("min_idle", cfg.PoolMinIdle).
		Int("max_active", cfg.PoolMaxActive).
		Msg("PooledExecutor initialized successfully")
	return p, nil
}

// NewPooledExecutorFromDB wraps an already opened pool. No warm-up is done.
func NewPooledExecutorFromDB(db *sql.DB, cfg PooledConfig, logger zerolog.Logger) *PooledExecutor {
	logger = logger.With().Str("component", "PooledExecutor").Logger()
	p := newPooled(db, cfg.withDefaults(logger), logger, func() {})
	p.startKeeper()
	return p
}

func newPooled(db *sql.DB, cfg PooledConfig, logger zerolog.Logger, release func()) *PooledExecutor {
	db.SetMaxOpenConns(cfg.PoolMaxActive)
	db.SetMaxIdleConns(cfg.idleCap())
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	p := &PooledExecutor{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		release: release,
		stop:    make(chan struct{}),
	}
	p.lastUsed.Store(time.Now().UnixNano())
	return p
}

// resolveDSN folds Username/Password into the driver specific DSN.
func resolveDSN(cfg PooledConfig) (string, string, func(), error) {
	noop := func() {}
	switch cfg.DriverName {
	case "pgx":
		connCfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return "", "", noop, fmt.Errorf("failed to parse pgx DSN: %w", err)
		}
		if cfg.Username != "" {
			connCfg.User = cfg.Username
		}
		if cfg.Password != "" {
			connCfg.Password = cfg.Password
		}
		connStr := stdlib.RegisterConnConfig(connCfg)
		return "pgx", connStr, func() { stdlib.UnregisterConnConfig(connStr) }, nil
	case "mysql":
		myCfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", "", noop, fmt.Errorf("failed to parse mysql DSN: %w", err)
		}
		if cfg.Username != "" {
			myCfg.User = cfg.Username
		}
		if cfg.Password != "" {
			myCfg.Passwd = cfg.Password
		}
		return "mysql", myCfg.FormatDSN(), noop, nil
	default:
		dsn := cfg.DSN
		if cfg.Username != "" && !strings.Contains(dsn, "@") {
			dsn = cfg.Username + ":" + cfg.Password + "@" + dsn
		}
		return cfg.DriverName, dsn, noop, nil
	}
}

// warm opens PoolInit connections up front and hands them back idle.
func (p *PooledExecutor) warm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.MaxWait)
	defer cancel()

	conns := make([]*sql.Conn, 0, p.cfg.PoolInit)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < p.cfg.PoolInit; i++ {
		c, err := p.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to open initial connection %d: %w", i+1, err)
		}
		if err := c.PingContext(ctx); err != nil {
			_ = c.Close()
			return fmt.Errorf("failed to ping initial connection %d: %w", i+1, err)
		}
		conns = append(conns, c)
	}
	return nil
}

func (p *PooledExecutor) startKeeper() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.IdleEvictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.maintain()
			}
		}
	}()
}

// maintain validates one idle connection with TestQuery, discarding it when
// the query fails, then trims connections that have sat idle past
// MinIdleTime down to PoolMinIdle. MaxIdleTime expiry is left to database/sql.
func (p *PooledExecutor) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.MaxWait)
	defer cancel()

	p.validate(ctx)

	idleFor := time.Since(time.Unix(0, p.lastUsed.Load()))
	if idleFor < p.cfg.MinIdleTime {
		return
	}
	if stats := p.db.Stats(); stats.Idle > p.cfg.PoolMinIdle {
		p.db.SetMaxIdleConns(p.cfg.PoolMinIdle)
		p.db.SetMaxIdleConns(p.cfg.idleCap())
		p.logger.Debug().Int("idle_before", stats.Idle).Dur("idle_for", idleFor).Msg("Evicted idle connections")
	}
}

func (p *PooledExecutor) validate(ctx context.Context) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Pool validation could not acquire a connection")
		return
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, p.cfg.TestQuery)
	if err == nil {
		err = rows.Close()
	}
	if err == nil {
		return
	}
	p.logger.Warn().Err(err).Str("test_query", p.cfg.TestQuery).Msg("Pool validation query failed, discarding connection")
	// ErrBadConn from Raw makes database/sql close the connection instead of
	// returning it to the idle set.
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}

// Execute runs statement on a dedicated connection. The connection goes back
// to the pool on every path.
func (p *PooledExecutor) Execute(ctx context.Context, statement string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.lastUsed.Store(time.Now().UnixNano())

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxWait)
	conn, err := p.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		p.logger.Error().Err(err).Str("sql", statement).Msg("Failed to acquire connection")
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			p.logger.Warn().Err(cerr).Msg("Failed to return connection to pool")
		}
	}()

	if _, err := conn.ExecContext(ctx, statement); err != nil {
		p.logger.Error().Err(err).Str("sql", statement).Msg("Statement execution failed")
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Stats exposes the underlying pool statistics.
func (p *PooledExecutor) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close stops the keeper and closes the pool. It is safe to call repeatedly.
func (p *PooledExecutor) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.stop)
		p.wg.Wait()
		p.closeErr = p.db.Close()
		p.release()
		p.logger.Info().Msg("PooledExecutor closed.")
	})
	return p.closeErr
}
