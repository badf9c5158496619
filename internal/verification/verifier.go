// Package verification checks ledger snapshots against the conservation rules
// and against a replay of the committed event log.
package verification

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/replay"
)

var (
	// ErrSupplyMismatch is returned when balances plus burned do not equal the initial supply.
	ErrSupplyMismatch = errors.New("supply mismatch")

	// ErrSwapLimitExceeded is returned when more was swapped than the pool allows.
	ErrSwapLimitExceeded = errors.New("swap limit exceeded")

	// ErrPoolUnbacked is returned when the system balance cannot cover its commitments.
	ErrPoolUnbacked = errors.New("prize pool not backed by system balance")

	// ErrMalformedSnapshot is returned for missing or impossible fields.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// Limits are the configuration-derived bounds a snapshot must respect.
// Nil fields are not checked.
type Limits struct {
	InitialSupply *uint256.Int
	SwapPoolLimit *uint256.Int
}

// VerifySnapshot checks the conservation invariants of a snapshot.
// All violations are reported, joined.
func VerifySnapshot(snap *domain.Snapshot, limits Limits) error {
	if snap == nil {
		return fmt.Errorf("%w: nil", ErrMalformedSnapshot)
	}
	if missing := missingFields(snap); len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrMalformedSnapshot, missing)
	}

	var errs []error
	if _, ok := snap.Balances[domain.ZeroAddress]; ok {
		errs = append(errs, fmt.Errorf("%w: zero address holds a balance", ErrMalformedSnapshot))
	}

	total, overflow := new(uint256.Int).AddOverflow(snap.SumBalances(), snap.TotalBurned)
	if overflow || !total.Eq(snap.InitialSupply) {
		errs = append(errs, fmt.Errorf("%w: balances+burned %s, initial %s",
			ErrSupplyMismatch, total.Dec(), snap.InitialSupply.Dec()))
	}
	if limits.InitialSupply != nil && !snap.InitialSupply.Eq(limits.InitialSupply) {
		errs = append(errs, fmt.Errorf("%w: initial %s, configured %s",
			ErrSupplyMismatch, snap.InitialSupply.Dec(), limits.InitialSupply.Dec()))
	}
	if limits.SwapPoolLimit != nil && snap.TotalSwapped.Gt(limits.SwapPoolLimit) {
		errs = append(errs, fmt.Errorf("%w: swapped %s, limit %s",
			ErrSwapLimitExceeded, snap.TotalSwapped.Dec(), limits.SwapPoolLimit.Dec()))
	}

	committed, overflow := new(uint256.Int).AddOverflow(snap.TokenPrizePool, snap.AirdropRemaining)
	if sys := snap.BalanceOf(snap.System); overflow || committed.Gt(sys) {
		errs = append(errs, fmt.Errorf("%w: pool+airdrop %s, system holds %s",
			ErrPoolUnbacked, committed.Dec(), sys.Dec()))
	}

	seen := make(map[domain.Address]struct{}, len(snap.Claimed))
	for _, a := range snap.Claimed {
		if _, dup := seen[a]; dup {
			errs = append(errs, fmt.Errorf("%w: %s claimed twice", ErrMalformedSnapshot, a))
		}
		seen[a] = struct{}{}
	}

	return errors.Join(errs...)
}

func missingFields(snap *domain.Snapshot) []string {
	var missing []string
	fields := []struct {
		name string
		v    *uint256.Int
	}{
		{"initial_supply", snap.InitialSupply},
		{"total_burned", snap.TotalBurned},
		{"total_swapped", snap.TotalSwapped},
		{"token_prize_pool", snap.TokenPrizePool},
		{"reserve", snap.Reserve},
		{"airdrop_remaining", snap.AirdropRemaining},
	}
	for _, f := range fields {
		if f.v == nil {
			missing = append(missing, f.name)
		}
	}
	if snap.Balances == nil {
		missing = append(missing, "balances")
	}
	for a, b := range snap.Balances {
		if b == nil {
			missing = append(missing, "balance of "+a.String())
		}
	}
	for _, a := range snap.Allowances {
		if a.Amount == nil {
			missing = append(missing, "allowance of "+a.Spender.String())
		}
	}
	return missing
}

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // field name
	Expected string // snapshot value
	Actual   string // replayed value
}

// VerificationResult contains the result of verifying one snapshot.
type VerificationResult struct {
	LedgerID    string
	Seq         uint64            // snapshot seq the log was replayed to
	Events      uint64            // replayed events
	Match       bool              // true if all fields match and invariants hold
	Divergences []FieldDivergence // list of divergent fields
	Invariant   error             // VerifySnapshot result
}

// CompareReplay compares a snapshot against the fold of the events up to its seq.
func CompareReplay(snap *domain.Snapshot, fold *replay.BalanceFold) []FieldDivergence {
	var divergences []FieldDivergence
	diff := func(field string, expected, actual *uint256.Int) {
		if !expected.Eq(actual) {
			divergences = append(divergences, FieldDivergence{
				Field:    field,
				Expected: expected.Dec(),
				Actual:   actual.Dec(),
			})
		}
	}

	if fold.LastSeq != snap.Seq {
		divergences = append(divergences, FieldDivergence{
			Field:    "Seq",
			Expected: fmt.Sprint(snap.Seq),
			Actual:   fmt.Sprint(fold.LastSeq),
		})
	}
	diff("InitialSupply", snap.InitialSupply, fold.Minted)
	diff("TotalBurned", snap.TotalBurned, fold.Burned)
	diff("TotalSwapped", snap.TotalSwapped, fold.Swapped)
	diff("Reserve", snap.Reserve, fold.Reserve)

	for addr, b := range snap.Balances {
		diff("Balance["+addr.String()+"]", b, fold.BalanceOf(addr))
	}
	for addr, b := range fold.Balances {
		if _, ok := snap.Balances[addr]; !ok {
			diff("Balance["+addr.String()+"]", new(uint256.Int), b)
		}
	}
	return divergences
}
