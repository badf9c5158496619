package ledger

import (
	"context"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// Stats returns the aggregate statistics of the ledger.
func (l *Ledger) Stats(ctx context.Context) domain.Stats {
	defer l.read(ctx)()
	st := &l.st
	return domain.Stats{
		TotalSupply:    l.store.TotalSupply(),
		InitialSupply:  st.initialSupply.Clone(),
		TotalSwapped:   st.totalSwapped.Clone(),
		SwapPoolLimit:  l.alloc.SwapPoolLimit.Clone(),
		TokenPrizePool: st.tokenPrizePool.Clone(),
		TotalBurned:    st.totalBurned.Clone(),
		CurrentRate:    l.currentRate(),
		Reserve:        st.reserve.Clone(),
		SystemBalance:  l.store.BalanceOf(l.system),
		TotalTransfers: st.totalTransfers,
	}
}

// CurrentRate returns the ledger units credited per reserve base unit.
func (l *Ledger) CurrentRate(ctx context.Context) *uint256.Int {
	defer l.read(ctx)()
	return l.currentRate()
}

// RemainingSwapCapacity returns how many more ledger units swaps may hand out.
func (l *Ledger) RemainingSwapCapacity(ctx context.Context) *uint256.Int {
	defer l.read(ctx)()
	return clampSub(l.alloc.SwapPoolLimit, &l.st.totalSwapped)
}

// PrizeInfo returns the prize pools and the lottery cooldown state.
func (l *Ledger) PrizeInfo(ctx context.Context) domain.PrizeInfo {
	defer l.read(ctx)()
	st := &l.st
	now := l.clock.Now()

	info := domain.PrizeInfo{
		TokenPrizePool: st.tokenPrizePool.Clone(),
		ReservePool:    st.reserve.Clone(),
		LastPrizeTime:  st.lastPrizeTime,
		Armed:          l.armed(now),
	}
	if !st.lastPrizeTime.IsZero() {
		info.SinceLastPrize = now.Sub(st.lastPrizeTime)
		if !info.Armed {
			info.CooldownRemaining = l.cfg.Cooldown - info.SinceLastPrize
		}
	}
	return info
}

// TaxInfo returns the tax configuration.
func (l *Ledger) TaxInfo() domain.TaxInfo {
	return domain.TaxInfo{
		RateNumerator:   l.cfg.Tax.Num,
		RateDenominator: l.cfg.Tax.Den,
		BurnNumerator:   l.cfg.BurnShare.Num,
		BurnDenominator: l.cfg.BurnShare.Den,
	}
}

// BalanceOf returns the ledger-unit balance of account.
func (l *Ledger) BalanceOf(ctx context.Context, account domain.Address) *uint256.Int {
	defer l.read(ctx)()
	return l.store.BalanceOf(account)
}

// HasClaimed reports whether account used its one-time claim.
func (l *Ledger) HasClaimed(ctx context.Context, account domain.Address) bool {
	defer l.read(ctx)()
	_, ok := l.st.claimed[account]
	return ok
}

// LastSeq returns the sequence number of the last committed event.
func (l *Ledger) LastSeq(ctx context.Context) uint64 {
	defer l.read(ctx)()
	return l.st.seq
}

// Snapshot captures the complete ledger state at the last committed event.
func (l *Ledger) Snapshot(ctx context.Context) *domain.Snapshot {
	defer l.read(ctx)()
	st := &l.st

	snap := &domain.Snapshot{
		LedgerID:         l.id,
		System:           l.system,
		Seq:              st.seq,
		TakenAt:          l.clock.Now().UnixMilli(),
		Balances:         l.store.Holders(),
		InitialSupply:    st.initialSupply.Clone(),
		TotalBurned:      st.totalBurned.Clone(),
		TotalSwapped:     st.totalSwapped.Clone(),
		TotalTransfers:   st.totalTransfers,
		TokenPrizePool:   st.tokenPrizePool.Clone(),
		Reserve:          st.reserve.Clone(),
		AirdropRemaining: st.airdropRemaining.Clone(),
		Claimed:          make([]domain.Address, 0, len(st.claimed)),
		Allowances:       l.auth.Allowances(),
		BlockSeed:        st.blockSeed,
	}
	if !st.lastPrizeTime.IsZero() {
		snap.LastPrizeTime = st.lastPrizeTime.UnixMilli()
	}
	for a := range st.claimed {
		snap.Claimed = append(snap.Claimed, a)
	}
	domain.SortAddresses(snap.Claimed)
	domain.SortAllowances(snap.Allowances)
	return snap
}
