package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Record inserts tx unless its hash is already present. It reports whether a
// row was written.
func (s *TransactionStore) Record(ctx context.Context, tx domain.RaffleTransaction) (bool, error) {
	const query = `
		INSERT INTO raffle_transactions (
			season_id, user_address, tx_type, ticket_delta, tx_hash,
			block_number, block_timestamp, tickets_before, tickets_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		tx.SeasonID, normalizeAddress(tx.UserAddress), string(tx.Type), tx.TicketDelta, tx.TxHash,
		int64(tx.BlockNumber), tx.BlockTimestamp, tx.TicketsBefore, tx.TicketsAfter,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: record transaction %s: %w", tx.TxHash, err)
	}
	return tag.RowsAffected() == 1, nil
}
