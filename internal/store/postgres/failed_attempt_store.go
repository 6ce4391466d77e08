package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// FailedAttemptStore implements domain.FailedAttemptStore using PostgreSQL.
type FailedAttemptStore struct {
	pool *pgxpool.Pool
}

// NewFailedAttemptStore creates a new FailedAttemptStore backed by the given connection pool.
func NewFailedAttemptStore(pool *pgxpool.Pool) *FailedAttemptStore {
	return &FailedAttemptStore{pool: pool}
}

// Log persists one failed market creation.
func (s *FailedAttemptStore) Log(ctx context.Context, a domain.FailedMarketAttempt) error {
	const query = `
		INSERT INTO failed_market_attempts (
			id, season_id, player_address, market_type, error, attempts, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()))`
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed market attempt id %q: %w", a.ID, err)
	}
	var createdAt *time.Time
	if !a.CreatedAt.IsZero() {
		createdAt = &a.CreatedAt
	}
	_, err = s.pool.Exec(ctx, query,
		id, a.SeasonID, normalizeAddress(a.PlayerAddress), a.Type.String(),
		a.Error, a.Attempts, a.Source, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: log failed market attempt %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns the newest failed attempts.
func (s *FailedAttemptStore) Recent(ctx context.Context, limit int) ([]domain.FailedMarketAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, season_id, player_address, market_type, error, attempts, source, created_at
		FROM failed_market_attempts
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list failed market attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.FailedMarketAttempt
	for rows.Next() {
		var (
			a     domain.FailedMarketAttempt
			mtype string
		)
		if err := rows.Scan(&a.ID, &a.SeasonID, &a.PlayerAddress, &mtype, &a.Error, &a.Attempts, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan failed market attempt: %w", err)
		}
		if a.Type, err = domain.ParseMarketType(mtype); err != nil {
			return nil, fmt.Errorf("postgres: failed market attempt %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list failed market attempts rows: %w", err)
	}
	return out, nil
}
