package domain

import (
	"fmt"
	"strings"
	"time"
)

// MarketKind enumerates the market types the backend knows how to handle.
type MarketKind int

const (
	MarketKindUnknown MarketKind = iota
	MarketKindWinnerPrediction
	MarketKindPositionSize
	MarketKindBehavioral
)

var marketKindNames = map[MarketKind]string{
	MarketKindWinnerPrediction: "WINNER_PREDICTION",
	MarketKindPositionSize:     "POSITION_SIZE",
	MarketKindBehavioral:       "BEHAVIORAL",
}

// MarketType is a tagged market type. Kind is MarketKindUnknown when the
// on-chain identifier did not match any registered hash; Hash always keeps the
// raw identifier so unknown types can be diagnosed.
type MarketType struct {
	Kind MarketKind
	Hash string
}

// WinnerPrediction is the market type created on threshold crossings.
var WinnerPrediction = MarketType{Kind: MarketKindWinnerPrediction}

// IsUnknown reports whether the type did not resolve to a registered kind.
func (t MarketType) IsUnknown() bool { return t.Kind == MarketKindUnknown }

// Equal compares kinds; unknown types also compare their raw hash.
func (t MarketType) Equal(o MarketType) bool {
	if t.Kind != o.Kind {
		return false
	}
	return t.Kind != MarketKindUnknown || strings.EqualFold(t.Hash, o.Hash)
}

// String returns the persisted form: the kind name, or UNKNOWN:<hash>.
func (t MarketType) String() string {
	if name, ok := marketKindNames[t.Kind]; ok {
		return name
	}
	return "UNKNOWN:" + strings.ToLower(t.Hash)
}

// ParseMarketType is the inverse of MarketType.String.
func ParseMarketType(s string) (MarketType, error) {
	if rest, ok := strings.CutPrefix(s, "UNKNOWN:"); ok {
		return MarketType{Kind: MarketKindUnknown, Hash: rest}, nil
	}
	for kind, name := range marketKindNames {
		if name == s {
			return MarketType{Kind: kind}, nil
		}
	}
	return MarketType{}, fmt.Errorf("domain: unrecognised market type %q", s)
}

// MarketTypeRegistry maps on-chain bytes32 identifiers (lower-case hex) to
// market kinds.
type MarketTypeRegistry struct {
	byHash map[string]MarketKind
}

// NewMarketTypeRegistry builds a registry from hash → kind pairs.
func NewMarketTypeRegistry(entries map[string]MarketKind) *MarketTypeRegistry {
	r := &MarketTypeRegistry{byHash: make(map[string]MarketKind, len(entries))}
	for h, k := range entries {
		r.byHash[strings.ToLower(h)] = k
	}
	return r
}

// Resolve decodes an identifier. Unregistered hashes become Unknown(hash)
// rather than defaulting to a known kind.
func (r *MarketTypeRegistry) Resolve(hash string) MarketType {
	h := strings.ToLower(hash)
	if k, ok := r.byHash[h]; ok {
		return MarketType{Kind: k, Hash: h}
	}
	return MarketType{Kind: MarketKindUnknown, Hash: h}
}

// Market is a prediction market tracked for one player in one season. At
// most one Market exists per (SeasonID, PlayerAddress, Type).
type Market struct {
	ID                    int64
	SeasonID              int64
	PlayerID              int64
	PlayerAddress         string
	Type                  MarketType
	ContractAddress       *string
	CurrentProbabilityBps int
	IsActive              bool
	IsSettled             bool
	LastSyncedBlock       uint64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Materialized reports whether the on-chain market contract is known.
func (m Market) Materialized() bool {
	return m.ContractAddress != nil && *m.ContractAddress != ""
}

// ProbabilityUpdate is one row of a bulk probability write.
type ProbabilityUpdate struct {
	PlayerAddress string
	Bps           int
}

// FailedMarketAttempt records a market creation that exhausted its retries
// so an operator can retry it by hand.
type FailedMarketAttempt struct {
	ID            string
	SeasonID      int64
	PlayerAddress string
	Type          MarketType
	Error         string
	Attempts      int
	Source        string
	CreatedAt     time.Time
}
