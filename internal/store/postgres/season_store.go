package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// SeasonStore implements domain.SeasonStore using PostgreSQL.
type SeasonStore struct {
	pool *pgxpool.Pool
}

// NewSeasonStore creates a new SeasonStore backed by the given connection pool.
func NewSeasonStore(pool *pgxpool.Pool) *SeasonStore {
	return &SeasonStore{pool: pool}
}

const seasonCols = `season_id, bonding_curve_address, raffle_token_address, raffle_address,
	is_active, created_at, updated_at`

func scanSeason(row pgx.Row) (domain.Season, error) {
	var (
		s                    domain.Season
		curve, token, raffle *string
	)
	if err := row.Scan(&s.ID, &curve, &token, &raffle, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Season{}, err
	}
	s.BondingCurveAddress = derefString(curve)
	s.RaffleTokenAddress = derefString(token)
	s.RaffleAddress = derefString(raffle)
	return s, nil
}

// Get returns one season or domain.ErrNotFound.
func (s *SeasonStore) Get(ctx context.Context, id int64) (domain.Season, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+seasonCols+` FROM season_contracts WHERE season_id = $1`, id)
	season, err := scanSeason(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Season{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Season{}, fmt.Errorf("postgres: get season %d: %w", id, err)
	}
	return season, nil
}

// Upsert inserts or replaces a season row.
func (s *SeasonStore) Upsert(ctx context.Context, season domain.Season) error {
	const query = `
		INSERT INTO season_contracts (
			season_id, bonding_curve_address, raffle_token_address, raffle_address,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (season_id) DO UPDATE SET
			bonding_curve_address = EXCLUDED.bonding_curve_address,
			raffle_token_address  = EXCLUDED.raffle_token_address,
			raffle_address        = EXCLUDED.raffle_address,
			is_active             = EXCLUDED.is_active,
			updated_at            = NOW()`
	_, err := s.pool.Exec(ctx, query,
		season.ID,
		nullIfEmpty(season.BondingCurveAddress),
		nullIfEmpty(season.RaffleTokenAddress),
		nullIfEmpty(season.RaffleAddress),
		season.IsActive,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert season %d: %w", season.ID, err)
	}
	return nil
}

// SetActive flips the active flag, returning domain.ErrNotFound for an
// unknown season.
func (s *SeasonStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE season_contracts SET is_active = $2, updated_at = NOW() WHERE season_id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("postgres: set season %d active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActive returns active seasons ordered by id.
func (s *SeasonStore) ListActive(ctx context.Context) ([]domain.Season, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+seasonCols+` FROM season_contracts WHERE is_active ORDER BY season_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active seasons: %w", err)
	}
	defer rows.Close()

	var out []domain.Season
	for rows.Next() {
		season, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan season: %w", err)
		}
		out = append(out, season)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active seasons rows: %w", err)
	}
	return out, nil
}
