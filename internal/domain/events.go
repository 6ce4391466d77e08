package domain

// PositionUpdate is emitted by a season's bonding curve whenever a player's
// ticket count changes.
type PositionUpdate struct {
	SeasonID     int64
	Player       string
	OldTickets   int64
	NewTickets   int64
	TotalTickets int64
	TxHash       string
	BlockNumber  uint64
	LogIndex     uint
}

// MarketCreated is emitted by the market factory once a market contract is
// deployed.
type MarketCreated struct {
	SeasonID       int64
	Player         string
	MarketTypeHash string
	ConditionID    string
	MarketAddress  string
	TxHash         string
	BlockNumber    uint64
}

// SeasonEvent is emitted by the raffle when a season starts or ends.
type SeasonEvent struct {
	SeasonID    int64
	Started     bool
	TxHash      string
	BlockNumber uint64
}

// MarketLifecycle is the payload broadcast while a market is being created.
type MarketLifecycle struct {
	Stage          string `json:"stage"`
	SeasonID       int64  `json:"season_id"`
	Player         string `json:"player"`
	MarketType     string `json:"market_type"`
	ProbabilityBps int    `json:"probability_bps"`
	TxHash         string `json:"tx_hash,omitempty"`
	MarketAddress  string `json:"market_address,omitempty"`
	Error          string `json:"error,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
}

const (
	LifecycleStarted   = "started"
	LifecycleConfirmed = "confirmed"
	LifecycleFailed    = "failed"
)
