package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"smc-engine/config"
	"smc-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.DatabaseContext("connect", "").Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// migrations create the journal tables. Every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		instruments TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS zone_events (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		symbol VARCHAR(20) NOT NULL,
		timeframe VARCHAR(10) NOT NULL,
		bar_index INT NOT NULL,
		bar_time TIMESTAMPTZ NOT NULL,
		kind VARCHAR(16) NOT NULL,
		zone_id BIGINT NOT NULL,
		direction VARCHAR(8) NOT NULL,
		top DOUBLE PRECISION NOT NULL,
		bottom DOUBLE PRECISION NOT NULL,
		created_at_index INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_events_instrument ON zone_events(symbol, timeframe, bar_time)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_events_zone ON zone_events(run_id, zone_id)`,

	`CREATE TABLE IF NOT EXISTS structure_events (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		symbol VARCHAR(20) NOT NULL,
		timeframe VARCHAR(10) NOT NULL,
		bar_index INT NOT NULL,
		bar_time TIMESTAMPTZ NOT NULL,
		kind VARCHAR(16) NOT NULL,
		direction VARCHAR(8),
		price DOUBLE PRECISION NOT NULL,
		candle_index INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_structure_events_instrument ON structure_events(symbol, timeframe, bar_time)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		symbol VARCHAR(20) NOT NULL,
		timeframe VARCHAR(10) NOT NULL,
		policy VARCHAR(64) NOT NULL,
		signal_type VARCHAR(8) NOT NULL,
		zone_id BIGINT,
		bar_index INT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL,
		take_profit DOUBLE PRECISION NOT NULL,
		reason TEXT,
		bar_time TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_instrument ON signals(symbol, timeframe, bar_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_policy ON signals(policy)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.DatabaseContext("migrate", "")
	log.Info("Running database migrations", "count", len(migrations))

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
