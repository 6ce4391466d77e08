package domain

import "time"

// TxType is the direction of a ticket transaction.
type TxType string

const (
	TxTypeBuy  TxType = "BUY"
	TxTypeSell TxType = "SELL"
)

// RaffleTransaction is a ticket buy or sell, keyed by its transaction hash.
type RaffleTransaction struct {
	SeasonID       int64
	UserAddress    string
	Type           TxType
	TicketDelta    int64
	TxHash         string
	BlockNumber    uint64
	BlockTimestamp time.Time
	TicketsBefore  int64
	TicketsAfter   int64
}

// TxTypeFor returns BUY for a positive delta and SELL otherwise.
func TxTypeFor(delta int64) TxType {
	if delta > 0 {
		return TxTypeBuy
	}
	return TxTypeSell
}
