package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// Stats is the aggregate statistics view of a ledger.
type Stats struct {
	TotalSupply    *uint256.Int
	InitialSupply  *uint256.Int
	TotalSwapped   *uint256.Int
	SwapPoolLimit  *uint256.Int
	TokenPrizePool *uint256.Int
	TotalBurned    *uint256.Int
	CurrentRate    *uint256.Int
	Reserve        *uint256.Int // system reserve-currency balance
	SystemBalance  *uint256.Int // system ledger-unit balance
	TotalTransfers uint64
}

// PrizeInfo describes the prize pool and the lottery cooldown state.
type PrizeInfo struct {
	TokenPrizePool    *uint256.Int
	ReservePool       *uint256.Int
	LastPrizeTime     time.Time // zero if never awarded
	SinceLastPrize    time.Duration
	Armed             bool
	CooldownRemaining time.Duration
}

// TaxInfo describes the tax configuration.
type TaxInfo struct {
	RateNumerator   uint64
	RateDenominator uint64
	BurnNumerator   uint64
	BurnDenominator uint64
}

// DailyVolume is a per-day, per-kind rollup of committed events.
type DailyVolume struct {
	DayStartMs int64
	Kind       EventKind
	Events     uint64
	Amount     *uint256.Int
	Reserve    *uint256.Int
}

// DayMs is the length of a rollup day in milliseconds.
const DayMs = int64(24 * time.Hour / time.Millisecond)

// DayStart truncates a unix millisecond timestamp to its UTC day.
func DayStart(timestampMs int64) int64 {
	return timestampMs - timestampMs%DayMs
}
