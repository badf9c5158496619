package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// Donate accepts reserve currency already delivered by donor. Nothing is
// credited to the donor.
func (l *Ledger) Donate(ctx context.Context, donor domain.Address, amount *uint256.Int) error {
	return l.exec(ctx, "donate", func(tx *txn) error {
		return l.deposit(tx, donor, amount)
	})
}

// Receive is the fallback for unsolicited reserve currency. It behaves like
// Donate.
func (l *Ledger) Receive(ctx context.Context, from domain.Address, amount *uint256.Int) error {
	return l.exec(ctx, "receive", func(tx *txn) error {
		return l.deposit(tx, from, amount)
	})
}

func (l *Ledger) deposit(tx *txn, from domain.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if _, overflow := new(uint256.Int).AddOverflow(&l.st.reserve, amount); overflow {
		return ErrAmountOverflow
	}
	tx.add(&l.st.reserve, amount)
	tx.emit(domain.Event{Kind: domain.EventDonation, From: from, Reserve: amount.Clone()})
	return nil
}

// WithdrawReserve sends amount of the system's reserve currency to the
// administrator calling it.
func (l *Ledger) WithdrawReserve(ctx context.Context, caller domain.Address, amount *uint256.Int) error {
	return l.exec(ctx, "withdraw_reserve", func(tx *txn) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := l.auth.RequireAdmin(tx.ctx, caller); err != nil {
			return err
		}
		if amount.Gt(&l.st.reserve) {
			return fmt.Errorf("%w: %s held, %s requested", ErrInsufficientReserve, l.st.reserve.Dec(), amount.Dec())
		}

		tx.sub(&l.st.reserve, amount)
		tx.emit(domain.Event{Kind: domain.EventReserveWithdrawal, To: caller, Reserve: amount.Clone()})
		if err := l.send(tx, caller, amount); err != nil {
			return fmt.Errorf("%w: %w", ErrWithdrawalFailed, err)
		}
		return nil
	})
}

// WithdrawLedgerSurplus moves ledger units the system holds beyond its
// commitments to the administrator calling it.
func (l *Ledger) WithdrawLedgerSurplus(ctx context.Context, caller domain.Address, amount *uint256.Int) error {
	return l.exec(ctx, "withdraw_surplus", func(tx *txn) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := l.auth.RequireAdmin(tx.ctx, caller); err != nil {
			return err
		}
		if caller.IsZero() || caller == l.system {
			return fmt.Errorf("%w: %s", ErrInvalidAccount, caller)
		}
		if w := l.withdrawable(); amount.Gt(w) {
			return fmt.Errorf("%w: %s withdrawable, %s requested", ErrSurplusExceeded, w.Dec(), amount.Dec())
		}

		if err := tx.move(l.system, caller, amount); err != nil {
			return err
		}
		tx.emit(domain.Event{Kind: domain.EventSurplusWithdrawal, To: caller, Amount: amount.Clone()})
		return nil
	})
}

// Withdrawable returns the ledger units WithdrawLedgerSurplus may take.
func (l *Ledger) Withdrawable(ctx context.Context) *uint256.Int {
	defer l.read(ctx)()
	return l.withdrawable()
}

// withdrawable is the system balance minus the unswapped swap pool (buffer
// included), the prize pool and the airdrop allocation, floored at zero.
func (l *Ledger) withdrawable() *uint256.Int {
	st := &l.st
	committed := clampSub(l.alloc.SwapPool, &st.totalSwapped)
	return clampSub(l.store.BalanceOf(l.system), committed, &st.tokenPrizePool, &st.airdropRemaining)
}
