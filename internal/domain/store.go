package domain

import (
	"context"
	"time"
)

// CursorStore persists listener cursors. Load returns 0 for an unknown key.
// Save never moves a cursor backwards.
type CursorStore interface {
	Load(ctx context.Context, key string) (uint64, error)
	Save(ctx context.Context, key string, block uint64) error
}

// SeasonStore persists the season contract registry.
type SeasonStore interface {
	Get(ctx context.Context, id int64) (Season, error)
	Upsert(ctx context.Context, s Season) error
	SetActive(ctx context.Context, id int64, active bool) error
	ListActive(ctx context.Context) ([]Season, error)
}

// PlayerStore maps wallet addresses to player ids.
type PlayerStore interface {
	GetOrCreateID(ctx context.Context, address string) (int64, error)
}

// MarketStore persists InfoFi markets.
type MarketStore interface {
	HasMarket(ctx context.Context, seasonID int64, player string, t MarketType) (bool, error)
	// Create inserts a market. It returns ErrAlreadyExists when a market for
	// the same (season, player, type) is already present.
	Create(ctx context.Context, m Market) (Market, error)
	UpdateContractAddress(ctx context.Context, id int64, address string, block uint64) error
	// UpdateProbabilities writes bps for every existing, active, unsettled
	// market of the season whose player appears in updates.
	UpdateProbabilities(ctx context.Context, seasonID int64, updates []ProbabilityUpdate, block uint64) (int64, error)
	ListBySeason(ctx context.Context, seasonID int64) ([]Market, error)
	ActiveContractAddresses(ctx context.Context) ([]string, error)
}

// TransactionStore persists raffle ticket transactions.
type TransactionStore interface {
	// Record inserts tx and reports whether a new row was written; a
	// duplicate hash returns (false, nil).
	Record(ctx context.Context, tx RaffleTransaction) (bool, error)
}

// FailedAttemptStore persists market creations that need manual retry.
type FailedAttemptStore interface {
	Log(ctx context.Context, a FailedMarketAttempt) error
}

// OddsStore is the append-only odds history.
type OddsStore interface {
	Append(ctx context.Context, p OddsPoint) error
	// ListSince returns points at or after since in timestamp order; a zero
	// since returns the whole history.
	ListSince(ctx context.Context, seasonID, marketID int64, since time.Time) ([]OddsPoint, error)
	// LatestBefore returns the newest point strictly before t.
	LatestBefore(ctx context.Context, seasonID, marketID int64, t time.Time) (OddsPoint, bool, error)
	ListBefore(ctx context.Context, before time.Time) ([]OddsPoint, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteMarket(ctx context.Context, seasonID, marketID int64) (int64, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditReader lists recent audit entries, newest first.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}

// FailedAttemptReader lists failed market attempts awaiting manual retry,
// newest first.
type FailedAttemptReader interface {
	Recent(ctx context.Context, limit int) ([]FailedMarketAttempt, error)
}

// CursorLister lists every persisted listener cursor.
type CursorLister interface {
	List(ctx context.Context) ([]ListenerCursor, error)
}
