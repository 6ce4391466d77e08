package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlayerStore implements domain.PlayerStore using PostgreSQL.
type PlayerStore struct {
	pool *pgxpool.Pool
}

// NewPlayerStore creates a new PlayerStore backed by the given connection pool.
func NewPlayerStore(pool *pgxpool.Pool) *PlayerStore {
	return &PlayerStore{pool: pool}
}

// GetOrCreateID returns the player id for address, inserting the player if
// needed. A concurrent insert of the same address is resolved by re-reading.
func (s *PlayerStore) GetOrCreateID(ctx context.Context, address string) (int64, error) {
	addr := normalizeAddress(address)

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO players (address) VALUES ($1) ON CONFLICT (address) DO NOTHING RETURNING id`, addr,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: insert player %s: %w", addr, err)
	}

	if err := s.pool.QueryRow(ctx, `SELECT id FROM players WHERE address = $1`, addr).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: get player %s: %w", addr, err)
	}
	return id, nil
}
