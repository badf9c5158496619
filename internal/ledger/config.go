package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// BasisPoints is the denominator of allocation and rate percentages.
const BasisPoints = 10000

// RateStrategy selects how the swap rate is computed.
type RateStrategy int

const (
	// RateFixed swaps at BaseRate forever.
	RateFixed RateStrategy = iota
	// RateDynamic scales BaseRate by the burned fraction of supply:
	// BaseRate * (10000 + burnedBps) / 10000.
	RateDynamic
)

// String returns the flag form of the strategy.
func (s RateStrategy) String() string {
	switch s {
	case RateFixed:
		return "fixed"
	case RateDynamic:
		return "dynamic"
	}
	return fmt.Sprintf("RateStrategy(%d)", int(s))
}

// ParseRateStrategy parses the flag form of a strategy.
func ParseRateStrategy(s string) (RateStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return RateFixed, nil
	case "dynamic":
		return RateDynamic, nil
	}
	return 0, fmt.Errorf("unknown rate strategy %q", s)
}

// PayoutPolicy decides what a failed reserve-currency prize send aborts.
type PayoutPolicy int

const (
	// PayoutAbortTransfer fails the whole enclosing transfer.
	PayoutAbortTransfer PayoutPolicy = iota
	// PayoutSkipAward rolls back only the award; the transfer still commits.
	PayoutSkipAward
)

// String returns the flag form of the policy.
func (p PayoutPolicy) String() string {
	switch p {
	case PayoutAbortTransfer:
		return "abort-transfer"
	case PayoutSkipAward:
		return "skip-award"
	}
	return fmt.Sprintf("PayoutPolicy(%d)", int(p))
}

// ParsePayoutPolicy parses the flag form of a policy.
func ParsePayoutPolicy(s string) (PayoutPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort-transfer", "strict":
		return PayoutAbortTransfer, nil
	case "skip-award":
		return PayoutSkipAward, nil
	}
	return 0, fmt.Errorf("unknown payout policy %q", s)
}

// Fraction is an exact rational Num/Den with Num <= Den.
type Fraction struct {
	Num uint64
	Den uint64
}

// Of returns floor(x * Num / Den). The product is computed in 512 bits, so it
// never overflows for a valid fraction.
func (f Fraction) Of(x *uint256.Int) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(f.Num), uint256.NewInt(f.Den))
	return z
}

// IsZero reports whether the fraction is 0.
func (f Fraction) IsZero() bool {
	return f.Num == 0
}

func (f Fraction) validate(name string) error {
	if f.Den == 0 {
		return fmt.Errorf("%s: zero denominator", name)
	}
	if f.Num > f.Den {
		return fmt.Errorf("%s: %d/%d exceeds 1", name, f.Num, f.Den)
	}
	return nil
}

// ClaimConfig enables the one-time airdrop claim path.
type ClaimConfig struct {
	// Amount granted to each account exactly once, in ledger base units.
	Amount *uint256.Int
}

// Config is the immutable economic configuration of a ledger.
type Config struct {
	Name     string
	Decimals uint8

	// TotalSupply is minted once at creation, in base units.
	TotalSupply *uint256.Int

	// Allocation of TotalSupply in basis points; must sum to 10000.
	// The marketing share funds the airdrop when Claim is set.
	DeployerBps  uint64
	MarketingBps uint64
	SwapPoolBps  uint64

	// SwapPoolUsableBps is the part of the swap pool that swaps may drain.
	// The rest is a buffer no swap or withdrawal can touch.
	SwapPoolUsableBps uint64

	Tax       Fraction // share of every transfer taken as tax
	BurnShare Fraction // share of the tax burned; the remainder goes to the prize pool

	RateStrategy RateStrategy
	BaseRate     uint64       // ledger base units per reserve base unit
	MinSwap      *uint256.Int // reserve base units
	MaxSwap      *uint256.Int // reserve base units, nil or zero = unbounded

	LotteryOdds  uint64   // a draw wins when random mod LotteryOdds == 0
	WinShare     Fraction // share of each pool paid to a winner
	Cooldown     time.Duration
	PayoutPolicy PayoutPolicy

	MaxBatch int

	Claim *ClaimConfig
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	var errs []error

	if c.TotalSupply == nil || c.TotalSupply.IsZero() {
		errs = append(errs, errors.New("total supply must be positive"))
	}
	if c.DeployerBps+c.MarketingBps+c.SwapPoolBps != BasisPoints {
		errs = append(errs, fmt.Errorf("allocations sum to %d bps, want %d",
			c.DeployerBps+c.MarketingBps+c.SwapPoolBps, BasisPoints))
	}
	if c.SwapPoolUsableBps > BasisPoints {
		errs = append(errs, fmt.Errorf("swap pool usable share %d bps exceeds %d", c.SwapPoolUsableBps, BasisPoints))
	}
	for name, f := range map[string]Fraction{"tax": c.Tax, "burn share": c.BurnShare, "win share": c.WinShare} {
		if err := f.validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.RateStrategy != RateFixed && c.RateStrategy != RateDynamic {
		errs = append(errs, fmt.Errorf("unknown rate strategy %d", int(c.RateStrategy)))
	}
	if c.BaseRate == 0 {
		errs = append(errs, errors.New("base rate must be positive"))
	}
	if c.MinSwap == nil || c.MinSwap.IsZero() {
		errs = append(errs, errors.New("minimum swap must be positive"))
	}
	if c.MinSwap != nil && c.MaxSwap != nil && !c.MaxSwap.IsZero() && c.MaxSwap.Lt(c.MinSwap) {
		errs = append(errs, errors.New("maximum swap below minimum swap"))
	}
	if c.LotteryOdds == 0 {
		errs = append(errs, errors.New("lottery odds must be positive"))
	}
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown must not be negative"))
	}
	if c.PayoutPolicy != PayoutAbortTransfer && c.PayoutPolicy != PayoutSkipAward {
		errs = append(errs, fmt.Errorf("unknown payout policy %d", int(c.PayoutPolicy)))
	}
	if c.MaxBatch <= 0 {
		errs = append(errs, errors.New("max batch must be positive"))
	}
	if c.Claim != nil && (c.Claim.Amount == nil || c.Claim.Amount.IsZero()) {
		errs = append(errs, errors.New("claim amount must be positive"))
	}

	return errors.Join(errs...)
}

// Allocation is the genesis partition of the total supply.
type Allocation struct {
	Deployer  *uint256.Int
	Marketing *uint256.Int
	SwapPool  *uint256.Int
	// SwapPoolLimit is the most totalSwapped may ever reach.
	SwapPoolLimit *uint256.Int
	// SwapBuffer is SwapPool - SwapPoolLimit.
	SwapBuffer *uint256.Int
}

// Allocate partitions TotalSupply. Marketing takes the rounding remainder so the
// three parts always sum to TotalSupply exactly.
func (c Config) Allocate() Allocation {
	bps := func(n uint64) Fraction { return Fraction{Num: n, Den: BasisPoints} }

	deployer := bps(c.DeployerBps).Of(c.TotalSupply)
	swapPool := bps(c.SwapPoolBps).Of(c.TotalSupply)
	marketing := new(uint256.Int).Sub(c.TotalSupply, deployer)
	marketing.Sub(marketing, swapPool)

	limit := bps(c.SwapPoolUsableBps).Of(swapPool)
	return Allocation{
		Deployer:      deployer,
		Marketing:     marketing,
		SwapPool:      swapPool,
		SwapPoolLimit: limit,
		SwapBuffer:    new(uint256.Int).Sub(swapPool, limit),
	}
}

// Preset names accepted by PresetConfig.
const (
	PresetClassic      = "classic"
	PresetDeflationary = "deflationary"
	PresetAirdrop      = "airdrop"
)

// Decimals of the ledger unit and of the reserve currency in the presets.
const presetDecimals = 18

func baseConfig(name string) Config {
	return Config{
		Name:              name,
		Decimals:          presetDecimals,
		TotalSupply:       domain.Units(1_000_000_000_000, presetDecimals),
		DeployerBps:       1100,
		MarketingBps:      4900,
		SwapPoolBps:       4000,
		SwapPoolUsableBps: 9500,
		Tax:               Fraction{Num: 1, Den: 100},
		BurnShare:         Fraction{Num: 50, Den: 100},
		RateStrategy:      RateFixed,
		BaseRate:          10000,
		MinSwap:           uint256.NewInt(1_000_000_000_000_000),      // 0.001 reserve units
		MaxSwap:           uint256.NewInt(10_000_000_000_000_000_000), // 10 reserve units
		LotteryOdds:       100,
		WinShare:          Fraction{Num: 50, Den: 100},
		Cooldown:          time.Hour,
		PayoutPolicy:      PayoutAbortTransfer,
		MaxBatch:          100,
	}
}

// ClassicConfig is the 1% tax, fixed-rate variant.
func ClassicConfig() Config {
	return baseConfig(PresetClassic)
}

// DeflationaryConfig is the 2% tax variant whose swap rate grows with burns.
func DeflationaryConfig() Config {
	cfg := baseConfig(PresetDeflationary)
	cfg.Tax = Fraction{Num: 2, Den: 100}
	cfg.RateStrategy = RateDynamic
	return cfg
}

// AirdropConfig is the fixed-rate variant where the marketing allocation stays
// with the system account and is handed out through one-time claims.
func AirdropConfig() Config {
	cfg := baseConfig(PresetAirdrop)
	cfg.Claim = &ClaimConfig{Amount: domain.Units(1000, presetDecimals)}
	return cfg
}

// PresetConfig returns the named preset.
func PresetConfig(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PresetClassic:
		return ClassicConfig(), nil
	case PresetDeflationary:
		return DeflationaryConfig(), nil
	case PresetAirdrop:
		return AirdropConfig(), nil
	}
	return Config{}, fmt.Errorf("unknown preset %q", name)
}
