package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/docs-transducer/internal/common"
	repo "github.com/joseph-ayodele/docs-transducer/internal/repository"
)

// ConnectDB opens the configured database, runs the schema migration and
// returns the handle. pool is nil for sqlite.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, *pgxpool.Pool, error) {
	var (
		db   *repo.DB
		pool *pgxpool.Pool
		err  error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = repo.OpenSQLite(ctx, cfg.DSN, logger)
	case "postgres", "":
		db, pool, err = repo.Open(ctx, repo.Config{
			DSN:              cfg.DSN,
			MaxConns:         cfg.MaxConns,
			MinConns:         cfg.MinConns,
			MaxConnLifetime:  cfg.MaxConnLifetime,
			MaxConnIdleTime:  cfg.MaxConnIdleTime,
			DialTimeout:      cfg.DialTimeout,
			StatementTimeout: cfg.StatementTimeout,
		}, logger)
	default:
		err = fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", "error", err)
		CloseDB(db, pool, logger)
		return nil, nil, err
	}
	logger.Info("successfully connected to database", "dialect", db.Dialect())
	return db, pool, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, pool *pgxpool.Pool, logger *slog.Logger, timeout time.Duration) error {
	if pool != nil {
		return repo.HealthCheck(ctx, pool, timeout, logger)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repo.DB, pool *pgxpool.Pool, logger *slog.Logger) {
	repo.Close(db, pool, logger)
}
