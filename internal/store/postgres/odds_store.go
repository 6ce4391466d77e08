package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// OddsStore implements domain.OddsStore using PostgreSQL.
type OddsStore struct {
	pool *pgxpool.Pool
}

// NewOddsStore creates a new OddsStore backed by the given connection pool.
func NewOddsStore(pool *pgxpool.Pool) *OddsStore {
	return &OddsStore{pool: pool}
}

const oddsCols = `season_id, market_id, ts, yes_bps, no_bps, hybrid_bps, raffle_bps, sentiment_bps`

func scanOdds(row pgx.Row) (domain.OddsPoint, error) {
	var p domain.OddsPoint
	err := row.Scan(&p.SeasonID, &p.MarketID, &p.Timestamp,
		&p.YesBps, &p.NoBps, &p.HybridBps, &p.RaffleBps, &p.SentimentBps)
	p.Timestamp = p.Timestamp.UTC()
	return p, err
}

func collectOdds(rows pgx.Rows, op string) ([]domain.OddsPoint, error) {
	defer rows.Close()
	var out []domain.OddsPoint
	for rows.Next() {
		p, err := scanOdds(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

// Append inserts one point.
func (s *OddsStore) Append(ctx context.Context, p domain.OddsPoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_odds_history (`+oddsCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.SeasonID, p.MarketID, p.Timestamp,
		p.YesBps, p.NoBps, p.HybridBps, p.RaffleBps, p.SentimentBps,
	)
	if err != nil {
		return fmt.Errorf("postgres: append odds %d/%d: %w", p.SeasonID, p.MarketID, err)
	}
	return nil
}

// ListSince returns points at or after since, oldest first. A zero since
// returns the full history.
func (s *OddsStore) ListSince(ctx context.Context, seasonID, marketID int64, since time.Time) ([]domain.OddsPoint, error) {
	query := `SELECT ` + oddsCols + ` FROM market_odds_history WHERE season_id = $1 AND market_id = $2`
	args := []any{seasonID, marketID}
	if !since.IsZero() {
		query += ` AND ts >= $3`
		args = append(args, since)
	}
	query += ` ORDER BY ts, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list odds %d/%d: %w", seasonID, marketID, err)
	}
	return collectOdds(rows, "list odds")
}

// LatestBefore returns the newest point strictly before t.
func (s *OddsStore) LatestBefore(ctx context.Context, seasonID, marketID int64, t time.Time) (domain.OddsPoint, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+oddsCols+` FROM market_odds_history
		WHERE season_id = $1 AND market_id = $2 AND ts < $3
		ORDER BY ts DESC, id DESC
		LIMIT 1`, seasonID, marketID, t)
	p, err := scanOdds(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OddsPoint{}, false, nil
	}
	if err != nil {
		return domain.OddsPoint{}, false, fmt.Errorf("postgres: odds anchor %d/%d: %w", seasonID, marketID, err)
	}
	return p, true, nil
}

// ListBefore returns every point older than before, oldest first.
func (s *OddsStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OddsPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oddsCols+` FROM market_odds_history WHERE ts < $1 ORDER BY ts, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list odds before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOdds(rows, "list odds before")
}

// DeleteBefore prunes points older than before.
func (s *OddsStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_odds_history WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete odds before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// DeleteMarket removes the full history of one market.
func (s *OddsStore) DeleteMarket(ctx context.Context, seasonID, marketID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM market_odds_history WHERE season_id = $1 AND market_id = $2`, seasonID, marketID)
	if err != nil {
		return 0, fmt.Errorf("postgres: clear odds %d/%d: %w", seasonID, marketID, err)
	}
	return tag.RowsAffected(), nil
}
