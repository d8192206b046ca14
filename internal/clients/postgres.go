package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"smartshopai/provisioner/internal/config"
	"smartshopai/provisioner/internal/orchestrator"
)

const postgresProbeName = "postgres"

const createRunsTable = `
CREATE TABLE IF NOT EXISTS bootstrap_runs (
	run_id           TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	topology         TEXT NOT NULL,
	seed_mode        TEXT NOT NULL,
	manifest_version INTEGER NOT NULL,
	failed_operation TEXT,
	error            TEXT,
	phases           JSONB NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL
)`

const insertRun = `
INSERT INTO bootstrap_runs (
	run_id, status, topology, seed_mode, manifest_version,
	failed_operation, error, phases, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
ON CONFLICT (run_id) DO NOTHING`

// dbConn abstracts the pgxpool.Pool methods used by PostgresClient so that
// tests can inject a fake without standing up a real database.
type dbConn interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresClient keeps the bootstrap run ledger. Each finished run becomes
// one row in bootstrap_runs with its phases stored as JSONB.
type PostgresClient struct {
	cfg     config.PostgresConfig
	cb      *gobreaker.CircuitBreaker
	connect func(ctx context.Context, cfg config.PostgresConfig) (dbConn, error)
}

// NewPostgresClient creates a PostgresClient that opens a pgx pool per
// Record and per Probe. No connection is made at construction time.
func NewPostgresClient(cfg config.PostgresConfig, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		cfg:     cfg,
		cb:      cb,
		connect: realConnect,
	}
}

// Record creates the ledger table if needed and inserts result. Recording
// the same run twice is a no-op.
func (c *PostgresClient) Record(ctx context.Context, result *orchestrator.BootstrapResult) error {
	result.Lock()
	phases, err := json.Marshal(result.Phases)
	args := []any{
		result.RunID,
		result.Status,
		result.Topology,
		result.SeedMode,
		result.ManifestVersion,
		result.FailedOperation,
		result.Error,
		phases,
		result.StartedAt,
		result.FinishedAt,
	}
	result.Unlock()
	if err != nil {
		return fmt.Errorf("encoding phases: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		pool, err := c.connect(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		defer pool.Close()

		if _, err := pool.Exec(ctx, createRunsTable); err != nil {
			return nil, fmt.Errorf("creating bootstrap_runs: %w", err)
		}
		if _, err := pool.Exec(ctx, insertRun, args...); err != nil {
			return nil, fmt.Errorf("inserting run %s: %w", args[0], err)
		}
		return nil, nil
	})
	return breakerErr(err)
}

// Probe pings the Postgres server and runs a trivial query. It wraps the
// check in the circuit breaker so that persistent failures trip the breaker
// after three consecutive errors.
func (c *PostgresClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		pool, err := c.connect(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}

		var one int
		if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			return nil, fmt.Errorf("select 1: %w", err)
		}
		return nil, nil
	})

	return probeResult(postgresProbeName, start, err)
}

// realConnect opens a pgxpool.Pool using the provided PostgresConfig.
func realConnect(ctx context.Context, cfg config.PostgresConfig) (dbConn, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DB, cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	return pool, nil
}
