package domain

import (
	"strings"
	"time"
)

// Season is one raffle round and the contracts deployed for it. Addresses are
// hex strings; an empty string means the address has not been recorded yet.
type Season struct {
	ID                  int64
	BondingCurveAddress string
	RaffleTokenAddress  string
	RaffleAddress       string
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SeasonConfig is the on-chain view of a season as read from the raffle
// contract.
type SeasonConfig struct {
	SeasonID            int64
	BondingCurveAddress string
	RaffleTokenAddress  string
	IsActive            bool
}

// HasAddresses reports whether both contract addresses are recorded.
func (s Season) HasAddresses() bool {
	return s.BondingCurveAddress != "" && s.RaffleTokenAddress != ""
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
