package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// Swap converts reserveIn, already delivered by sender, into ledger units at
// the current rate, paid from the system account's swap pool. It is untaxed.
func (l *Ledger) Swap(ctx context.Context, sender domain.Address, reserveIn *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.exec(ctx, "swap", func(tx *txn) error {
		var err error
		out, err = l.swap(tx, sender, reserveIn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) swap(tx *txn, sender domain.Address, reserveIn *uint256.Int) (*uint256.Int, error) {
	st := &l.st
	cfg := l.cfg

	if reserveIn == nil || reserveIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if reserveIn.Lt(cfg.MinSwap) {
		return nil, fmt.Errorf("%w: %s < %s", ErrSwapBelowMinimum, reserveIn.Dec(), cfg.MinSwap.Dec())
	}
	if cfg.MaxSwap != nil && !cfg.MaxSwap.IsZero() && reserveIn.Gt(cfg.MaxSwap) {
		return nil, fmt.Errorf("%w: %s > %s", ErrSwapAboveMaximum, reserveIn.Dec(), cfg.MaxSwap.Dec())
	}
	if err := l.checkInitiator(sender); err != nil {
		return nil, err
	}

	out, overflow := new(uint256.Int).MulOverflow(reserveIn, l.currentRate())
	if overflow {
		return nil, ErrAmountOverflow
	}
	swapped, overflow := new(uint256.Int).AddOverflow(&st.totalSwapped, out)
	if overflow || swapped.Gt(l.alloc.SwapPoolLimit) {
		return nil, fmt.Errorf("%w: %s swapped, %s requested, limit %s",
			ErrSwapPoolExhausted, st.totalSwapped.Dec(), out.Dec(), l.alloc.SwapPoolLimit.Dec())
	}
	if free := l.freeSystemBalance(); out.Gt(free) {
		return nil, fmt.Errorf("%w: %s available, %s requested", ErrInsufficientSystemBalance, free.Dec(), out.Dec())
	}
	if _, overflow := new(uint256.Int).AddOverflow(&st.reserve, reserveIn); overflow {
		return nil, ErrAmountOverflow
	}

	tx.set(&st.totalSwapped, swapped)
	tx.add(&st.reserve, reserveIn)
	if err := tx.move(l.system, sender, out); err != nil {
		return nil, err
	}
	tx.emit(domain.Event{Kind: domain.EventSwap, To: sender, Amount: out.Clone(), Reserve: reserveIn.Clone()})
	return out, nil
}

// Claim grants the configured one-time amount from the airdrop allocation.
func (l *Ledger) Claim(ctx context.Context, sender domain.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.exec(ctx, "claim", func(tx *txn) error {
		var err error
		out, err = l.claim(tx, sender)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) claim(tx *txn, sender domain.Address) (*uint256.Int, error) {
	st := &l.st
	if l.cfg.Claim == nil {
		return nil, ErrClaimDisabled
	}
	if err := l.checkInitiator(sender); err != nil {
		return nil, err
	}
	if _, ok := st.claimed[sender]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, sender)
	}
	amount := l.cfg.Claim.Amount
	if st.airdropRemaining.Lt(amount) {
		return nil, fmt.Errorf("%w: %s remaining", ErrAirdropExhausted, st.airdropRemaining.Dec())
	}
	if l.store.BalanceOf(l.system).Lt(amount) {
		return nil, ErrInsufficientSystemBalance
	}

	tx.sub(&st.airdropRemaining, amount)
	tx.markClaimed(sender)
	if err := tx.move(l.system, sender, amount); err != nil {
		return nil, err
	}
	tx.emit(domain.Event{Kind: domain.EventClaim, To: sender, Amount: amount.Clone()})
	return amount.Clone(), nil
}

// currentRate returns ledger units per reserve unit. Under RateDynamic the base
// rate grows by the burned share of the initial supply, in basis points.
func (l *Ledger) currentRate() *uint256.Int {
	base := uint256.NewInt(l.cfg.BaseRate)
	if l.cfg.RateStrategy != RateDynamic || l.st.initialSupply.IsZero() {
		return base
	}
	burnedBps, _ := new(uint256.Int).MulDivOverflow(&l.st.totalBurned, uint256.NewInt(BasisPoints), &l.st.initialSupply)
	scale := new(uint256.Int).Add(uint256.NewInt(BasisPoints), burnedBps)
	rate, _ := new(uint256.Int).MulDivOverflow(base, scale, uint256.NewInt(BasisPoints))
	return rate
}

// freeSystemBalance is the system balance not held in trust for the prize pool
// or the airdrop.
func (l *Ledger) freeSystemBalance() *uint256.Int {
	return clampSub(l.store.BalanceOf(l.system), &l.st.tokenPrizePool, &l.st.airdropRemaining)
}

// checkInitiator rejects accounts that may not start an operation.
func (l *Ledger) checkInitiator(account domain.Address) error {
	if account.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidAccount)
	}
	if account == l.system {
		return ErrSystemAccount
	}
	return nil
}

// clampSub returns x minus every y, floored at zero.
func clampSub(x *uint256.Int, ys ...*uint256.Int) *uint256.Int {
	out := x.Clone()
	for _, y := range ys {
		if out.Lt(y) {
			return new(uint256.Int)
		}
		out.Sub(out, y)
	}
	return out
}
