package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, season_id, player_id, player_address, market_type, contract_address,
	current_probability_bps, is_active, is_settled, last_synced_block, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m        domain.Market
		playerID *int64
		mtype    string
		block    int64
	)
	err := row.Scan(
		&m.ID, &m.SeasonID, &playerID, &m.PlayerAddress, &mtype, &m.ContractAddress,
		&m.CurrentProbabilityBps, &m.IsActive, &m.IsSettled, &block, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if playerID != nil {
		m.PlayerID = *playerID
	}
	m.LastSyncedBlock = uint64(block)
	t, err := domain.ParseMarketType(mtype)
	if err != nil {
		return domain.Market{}, err
	}
	m.Type = t
	return m, nil
}

// HasMarket reports whether a market exists for (season, player, type).
func (s *MarketStore) HasMarket(ctx context.Context, seasonID int64, player string, t domain.MarketType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM infofi_markets
			WHERE season_id = $1 AND player_address = $2 AND market_type = $3
		)`, seasonID, normalizeAddress(player), t.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has market %d/%s: %w", seasonID, player, err)
	}
	return exists, nil
}

// Create inserts m and returns it with id and timestamps filled in. A
// duplicate (season, player, type) returns domain.ErrAlreadyExists.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) (domain.Market, error) {
	m.PlayerAddress = normalizeAddress(m.PlayerAddress)
	if m.ContractAddress != nil {
		m.ContractAddress = nullIfEmpty(*m.ContractAddress)
	}

	var playerID *int64
	if m.PlayerID > 0 {
		playerID = &m.PlayerID
	}

	const query = `
		INSERT INTO infofi_markets (
			season_id, player_id, player_address, market_type, contract_address,
			current_probability_bps, is_active, is_settled, last_synced_block
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err := s.pool.QueryRow(ctx, query,
		m.SeasonID, playerID, m.PlayerAddress, m.Type.String(), m.ContractAddress,
		domain.ClampBps(m.CurrentProbabilityBps), m.IsActive, m.IsSettled, int64(m.LastSyncedBlock),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Market{}, domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: create market %d/%s: %w", m.SeasonID, m.PlayerAddress, err)
	}
	return m, nil
}

// UpdateContractAddress links a market row to its deployed contract.
func (s *MarketStore) UpdateContractAddress(ctx context.Context, id int64, address string, block uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE infofi_markets
		SET contract_address = $2, last_synced_block = GREATEST(last_synced_block, $3), updated_at = NOW()
		WHERE id = $1`, id, address, int64(block))
	if err != nil {
		return fmt.Errorf("postgres: update market %d contract: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateProbabilities writes every update in one statement. Markets that do
// not exist, are inactive or are settled are left untouched.
func (s *MarketStore) UpdateProbabilities(ctx context.Context, seasonID int64, updates []domain.ProbabilityUpdate, block uint64) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	addrs := make([]string, len(updates))
	bps := make([]int32, len(updates))
	for i, u := range updates {
		addrs[i] = normalizeAddress(u.PlayerAddress)
		bps[i] = int32(domain.ClampBps(u.Bps))
	}

	const query = `
		UPDATE infofi_markets AS m
		SET current_probability_bps = u.bps,
			last_synced_block       = GREATEST(m.last_synced_block, $4),
			updated_at              = NOW()
		FROM unnest($2::text[], $3::int[]) AS u(address, bps)
		WHERE m.season_id = $1
			AND m.player_address = u.address
			AND m.is_active
			AND NOT m.is_settled`
	tag, err := s.pool.Exec(ctx, query, seasonID, addrs, bps, int64(block))
	if err != nil {
		return 0, fmt.Errorf("postgres: update probabilities season %d: %w", seasonID, err)
	}
	return tag.RowsAffected(), nil
}

// ListBySeason returns every market of a season ordered by id.
func (s *MarketStore) ListBySeason(ctx context.Context, seasonID int64) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM infofi_markets WHERE season_id = $1 ORDER BY id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets season %d: %w", seasonID, err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// ActiveContractAddresses returns the contract address of every active,
// unsettled, materialized market.
func (s *MarketStore) ActiveContractAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT contract_address FROM infofi_markets
		WHERE is_active AND NOT is_settled AND contract_address IS NOT NULL
		ORDER BY contract_address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: active contract addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("postgres: scan contract address: %w", err)
		}
		out = append(out, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: active contract addresses rows: %w", err)
	}
	return out, nil
}
