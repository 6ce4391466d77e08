package domain

import (
	"fmt"
	"strings"
	"time"
)

// OddsPoint is one sample of a market's odds history.
type OddsPoint struct {
	SeasonID     int64     `json:"season_id"`
	MarketID     int64     `json:"market_id"`
	Timestamp    time.Time `json:"timestamp"`
	YesBps       int       `json:"yes_bps"`
	NoBps        int       `json:"no_bps"`
	HybridBps    int       `json:"hybrid_bps"`
	RaffleBps    int       `json:"raffle_bps"`
	SentimentBps int       `json:"sentiment_bps"`
}

// InitialOddsPoint is the first history point for a freshly materialized
// market: no trading has happened, so sentiment and raffle legs are zero.
func InitialOddsPoint(seasonID, marketID int64, yesBps int, ts time.Time) OddsPoint {
	yes := ClampBps(yesBps)
	return OddsPoint{
		SeasonID:  seasonID,
		MarketID:  marketID,
		Timestamp: ts,
		YesBps:    yes,
		NoBps:     BpsScale - yes,
		HybridBps: yes,
	}
}

// RaffleOddsPoint records a recomputed raffle probability for a market that
// has no trading-derived sentiment yet.
func RaffleOddsPoint(seasonID, marketID int64, raffleBps int, ts time.Time) OddsPoint {
	p := InitialOddsPoint(seasonID, marketID, raffleBps, ts)
	p.RaffleBps = p.YesBps
	return p
}

// OddsRange is a chart window.
type OddsRange string

const (
	OddsRange1H  OddsRange = "1H"
	OddsRange6H  OddsRange = "6H"
	OddsRange1D  OddsRange = "1D"
	OddsRange1W  OddsRange = "1W"
	OddsRange1M  OddsRange = "1M"
	OddsRangeAll OddsRange = "ALL"
)

var oddsRangeWindows = map[OddsRange]time.Duration{
	OddsRange1H: time.Hour,
	OddsRange6H: 6 * time.Hour,
	OddsRange1D: 24 * time.Hour,
	OddsRange1W: 7 * 24 * time.Hour,
	OddsRange1M: 30 * 24 * time.Hour,
}

// Window returns the lookback duration; ALL returns 0.
func (r OddsRange) Window() time.Duration {
	return oddsRangeWindows[r]
}

// ParseOddsRange accepts 1H, 6H, 1D, 1W, 1M or ALL (case-insensitive).
func ParseOddsRange(s string) (OddsRange, error) {
	r := OddsRange(strings.ToUpper(strings.TrimSpace(s)))
	if r == OddsRangeAll {
		return r, nil
	}
	if _, ok := oddsRangeWindows[r]; ok {
		return r, nil
	}
	return "", fmt.Errorf("domain: invalid odds range %q", s)
}

// OddsHistory is a query result.
type OddsHistory struct {
	Points      []OddsPoint `json:"points"`
	Count       int         `json:"count"`
	Downsampled bool        `json:"downsampled"`
}
