package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a new CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Load returns the last processed block for key, or 0 if none was saved.
func (s *CursorStore) Load(ctx context.Context, key string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_processed_block FROM listener_cursors WHERE listener_key = $1`, key,
	).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: load cursor %s: %w", key, err)
	}
	return uint64(block), nil
}

// Save records block for key. GREATEST keeps the cursor monotonic even if an
// older value is written late.
func (s *CursorStore) Save(ctx context.Context, key string, block uint64) error {
	const query = `
		INSERT INTO listener_cursors (listener_key, last_processed_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (listener_key) DO UPDATE SET
			last_processed_block = GREATEST(listener_cursors.last_processed_block, EXCLUDED.last_processed_block),
			updated_at           = NOW()`
	if _, err := s.pool.Exec(ctx, query, key, int64(block)); err != nil {
		return fmt.Errorf("postgres: save cursor %s: %w", key, err)
	}
	return nil
}

// List returns every cursor ordered by key.
func (s *CursorStore) List(ctx context.Context) ([]domain.ListenerCursor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT listener_key, last_processed_block, updated_at FROM listener_cursors ORDER BY listener_key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cursors: %w", err)
	}
	defer rows.Close()

	var out []domain.ListenerCursor
	for rows.Next() {
		var (
			c     domain.ListenerCursor
			block int64
		)
		if err := rows.Scan(&c.ListenerKey, &block, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan cursor: %w", err)
		}
		c.LastProcessedBlock = uint64(block)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cursors rows: %w", err)
	}
	return out, nil
}
