package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"quickdowntime/internal/infrastructure/repositories/postgres/migrations"
	"quickdowntime/pkg/tracing"
)

// DefaultTimeout bounds every statement when the caller sets no timeout.
const DefaultTimeout = 5 * time.Second

// Open creates a pgx pool for dsn and verifies it answers.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	// goose talks to the same database through database/sql.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Migrate applies the registered schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil pool provided")
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	connString := pool.Config().ConnConfig.ConnString()
	sqlDB, err := goose.OpenDBWithDriver("pgx", connString)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	return goose.UpContext(ctx, sqlDB, ".")
}

// startOp opens a client span for one statement and bounds it with timeout.
// The returned func must be called once the statement finishes.
func startOp(ctx context.Context, timeout time.Duration, operation, table string) (context.Context, func()) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	ctx, span := tracing.TraceDatabaseOperation(ctx, operation, table)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		tracing.MeasureDuration(ctx, start)
		span.End()
	}
}

func failOp(ctx context.Context, err error) error {
	tracing.RecordError(ctx, err)
	return err
}
