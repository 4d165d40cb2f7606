package cursor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atomiqlabs/atomiq-chain-solana/service/db"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendNone     = "none"
)

// OpenOptions selects and configures a cursor backend.
type OpenOptions struct {
	Backend     string
	Program     string
	Dir         string
	DatabaseURL string
	PebblePath  string
	Metrics     *metrics.Metrics
}

// Open creates the configured store. The returned release function closes any
// connection or database handle the store holds. BackendNone returns a nil store.
func Open(ctx context.Context, opts OpenOptions, logger *slog.Logger) (Store, func(), error) {
	noop := func() {}

	switch opts.Backend {
	case BackendNone:
		return nil, noop, nil

	case BackendFile, "":
		logger.Info("using file cursor store", "path", NewFile(opts.Dir).Path())
		return NewFile(opts.Dir), noop, nil

	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		store := db.NewStore(pool, opts.Metrics)
		if err := store.Ping(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("using postgres cursor store")
		return NewPostgres(store, opts.Program), pool.Close, nil

	case BackendPebble:
		pdb, err := OpenPebble(opts.PebblePath)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using pebble cursor store", "path", opts.PebblePath)
		return NewPebble(pdb, opts.Program), func() {
			if err := pdb.Close(); err != nil {
				logger.Error("failed to close pebble", "error", err)
			}
		}, nil

	default:
		return nil, noop, fmt.Errorf("unknown cursor backend %q", opts.Backend)
	}
}
