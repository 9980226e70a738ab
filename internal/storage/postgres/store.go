package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides Postgres persistence for checkpoints, invoices,
// notification settings and dead letters.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load returns the checkpoint stored for network.
func (s *Store) Load(ctx context.Context, network string) (uint64, bool, error) {
	if network == "" {
		return 0, false, fmt.Errorf("network name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT block_number FROM network_monitor WHERE network=$1`, network)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return uint64(block), true, nil
}

// Save upserts the checkpoint. A lower block never overwrites a higher one.
func (s *Store) Save(ctx context.Context, network string, block uint64) error {
	if network == "" {
		return fmt.Errorf("network name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO network_monitor (network, block_number, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (network) DO UPDATE
		SET block_number = GREATEST(network_monitor.block_number, EXCLUDED.block_number), updated_at = now()
	`, network, int64(block))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
