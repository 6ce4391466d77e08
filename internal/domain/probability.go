package domain

// BpsScale is the basis-point representation of 100%.
const BpsScale = 10000

// ThresholdBps is the 1% share a player needs before a market is tracked.
const ThresholdBps = 100

// ProbabilityBps returns round(tickets * 10000 / total). A zero total yields 0.
func ProbabilityBps(tickets, total int64) int {
	if total <= 0 || tickets <= 0 {
		return 0
	}
	return int((tickets*BpsScale + total/2) / total)
}

// ThresholdTickets returns ceil(maxSupply / 100), the ticket count matching
// the 1% threshold.
func ThresholdTickets(maxSupply int64) int64 {
	if maxSupply <= 0 {
		return 0
	}
	return (maxSupply + 99) / 100
}

// CrossesThreshold reports whether a position change moved a player from
// below the threshold to at or above it.
func CrossesThreshold(oldBps, newBps int) bool {
	return oldBps < ThresholdBps && newBps >= ThresholdBps
}

// ClampBps keeps a value inside [0, 10000].
func ClampBps(v int) int {
	switch {
	case v < 0:
		return 0
	case v > BpsScale:
		return BpsScale
	default:
		return v
	}
}
