// Package postgres stores ledger event logs, snapshots and consumer
// checkpoints in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"prize-ledger/internal/storage"
)

const applicationName = "prize-ledger"

// PostgreSQL error codes the stores translate.
const (
	pgErrUniqueViolation   = "23505"
	pgErrNumericOutOfRange = "22003" // amount wider than NUMERIC(78,0)
	pgErrInvalidText       = "22P02"
	pgErrUndefinedTable    = "42P01"
)

// ErrSchemaMissing is returned when the ledger tables have not been migrated.
var ErrSchemaMissing = errors.New("postgres ledger schema missing, run migrations")

// PoolOptions sizes the connection pool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolOptions fits one ledger service: the recorder, the snapshot loop
// and the history endpoints share the pool.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects with DefaultPoolOptions.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	return NewPoolWithOptions(ctx, dsn, DefaultPoolOptions())
}

// NewPoolWithOptions connects and pings the database. Connections identify
// themselves as prize-ledger unless the DSN sets application_name.
func NewPoolWithOptions(ctx context.Context, dsn string, opts PoolOptions) (*Pool, error) {
	config, err := poolConfig(dsn, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx := ctx
	if opts.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s/%s: %w", config.ConnConfig.Host, config.ConnConfig.Database, err)
	}

	return &Pool{Pool: pool}, nil
}

func poolConfig(dsn string, opts PoolOptions) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= config.MaxConns {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return config, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// mapError translates driver errors into storage errors; anything else is
// wrapped with op.
func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return storage.ErrDuplicateKey
		case pgErrNumericOutOfRange, pgErrInvalidText:
			return fmt.Errorf("%s: %w: %s", op, storage.ErrInvalidInput, pgErr.Message)
		case pgErrUndefinedTable:
			return fmt.Errorf("%s: %w: %s", op, ErrSchemaMissing, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
