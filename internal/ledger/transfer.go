package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// TransferResult describes a committed transfer.
type TransferResult struct {
	Net    *uint256.Int
	Burned *uint256.Int
	Pooled *uint256.Int
	Award  *Award // nil when no prize was paid
}

// BatchResult describes a committed batch transfer.
type BatchResult struct {
	Gross  *uint256.Int
	Net    *uint256.Int
	Burned *uint256.Int
	Pooled *uint256.Int
	Shares []*uint256.Int // per recipient, same order as the request
	// Dust is the truncation remainder of the pro-rata split. It never leaves
	// the sender.
	Dust  *uint256.Int
	Award *Award
}

// Transfer moves amount from sender to recipient less tax, then runs the
// lottery for recipient.
func (l *Ledger) Transfer(ctx context.Context, sender, recipient domain.Address, amount *uint256.Int) (*TransferResult, error) {
	var res *TransferResult
	err := l.exec(ctx, "transfer", func(tx *txn) error {
		if err := l.checkTransfer(sender, recipient, amount); err != nil {
			return err
		}
		var err error
		res, err = l.transfer(tx, sender, recipient, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TransferFrom is Transfer on behalf of owner, consuming spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, recipient domain.Address, amount *uint256.Int) (*TransferResult, error) {
	var res *TransferResult
	err := l.exec(ctx, "transfer_from", func(tx *txn) error {
		if spender.IsZero() {
			return fmt.Errorf("%w: zero spender", ErrInvalidAccount)
		}
		if err := l.checkTransfer(owner, recipient, amount); err != nil {
			return err
		}
		if err := l.auth.ConsumeAllowance(tx.ctx, owner, spender, amount); err != nil {
			return err
		}
		amt := amount.Clone()
		tx.onUndo(func() { l.auth.RestoreAllowance(tx.ctx, owner, spender, amt) })
		tx.emit(domain.Event{Kind: domain.EventApproval, From: owner, To: spender, Amount: l.auth.Allowance(owner, spender)})

		var err error
		res, err = l.transfer(tx, owner, recipient, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Approve sets the amount spender may move out of owner's balance with
// TransferFrom. A zero amount removes the allowance.
func (l *Ledger) Approve(ctx context.Context, owner, spender domain.Address, amount *uint256.Int) error {
	return l.exec(ctx, "approve", func(tx *txn) error {
		if err := l.checkInitiator(owner); err != nil {
			return err
		}
		if spender.IsZero() {
			return fmt.Errorf("%w: zero spender", ErrInvalidAccount)
		}
		if amount == nil {
			amount = new(uint256.Int)
		}

		old := l.auth.Allowance(owner, spender)
		if err := l.auth.Approve(owner, spender, amount); err != nil {
			return err
		}
		tx.onUndo(func() { _ = l.auth.Approve(owner, spender, old) })
		tx.emit(domain.Event{Kind: domain.EventApproval, From: owner, To: spender, Amount: amount.Clone()})
		return nil
	})
}

// Allowance returns what spender may still move out of owner's balance.
func (l *Ledger) Allowance(ctx context.Context, owner, spender domain.Address) *uint256.Int {
	defer l.read(ctx)()
	return l.auth.Allowance(owner, spender)
}

func (l *Ledger) checkTransfer(sender, recipient domain.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := l.checkInitiator(sender); err != nil {
		return err
	}
	if recipient.IsZero() {
		return fmt.Errorf("%w: zero recipient", ErrInvalidAccount)
	}
	if bal := l.store.BalanceOf(sender); bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, sender, bal.Dec(), amount.Dec())
	}
	return nil
}

func (l *Ledger) transfer(tx *txn, sender, recipient domain.Address, amount *uint256.Int) (*TransferResult, error) {
	split, err := ComputeTax(l.cfg, amount)
	if err != nil {
		return nil, err
	}
	if err := l.applyTax(tx, sender, split); err != nil {
		return nil, err
	}
	if err := tx.move(sender, recipient, split.Net); err != nil {
		return nil, err
	}
	tx.incTransfers()

	award, err := l.maybeAward(tx, recipient)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Net: split.Net, Burned: split.Burn, Pooled: split.Pool, Award: award}, nil
}

// BatchTransfer taxes the sum of amounts once and distributes the net total
// pro rata. It counts as one transfer and runs the lottery for the first
// recipient.
func (l *Ledger) BatchTransfer(ctx context.Context, sender domain.Address, recipients []domain.Address, amounts []*uint256.Int) (*BatchResult, error) {
	var res *BatchResult
	err := l.exec(ctx, "batch_transfer", func(tx *txn) error {
		var err error
		res, err = l.batchTransfer(tx, sender, recipients, amounts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) batchTransfer(tx *txn, sender domain.Address, recipients []domain.Address, amounts []*uint256.Int) (*BatchResult, error) {
	if len(recipients) == 0 {
		return nil, ErrBatchEmpty
	}
	if len(recipients) != len(amounts) {
		return nil, fmt.Errorf("%w: %d recipients, %d amounts", ErrBatchLength, len(recipients), len(amounts))
	}
	if len(recipients) > l.cfg.MaxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(recipients), l.cfg.MaxBatch)
	}
	if err := l.checkInitiator(sender); err != nil {
		return nil, err
	}

	gross := new(uint256.Int)
	for i, amt := range amounts {
		if amt == nil || amt.IsZero() {
			return nil, fmt.Errorf("%w: entry %d", ErrZeroAmount, i)
		}
		if recipients[i].IsZero() {
			return nil, fmt.Errorf("%w: zero recipient at entry %d", ErrInvalidAccount, i)
		}
		if _, overflow := gross.AddOverflow(gross, amt); overflow {
			return nil, ErrAmountOverflow
		}
	}
	if bal := l.store.BalanceOf(sender); bal.Lt(gross) {
		return nil, fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, sender, bal.Dec(), gross.Dec())
	}

	split, err := ComputeTax(l.cfg, gross)
	if err != nil {
		return nil, err
	}
	if err := l.applyTax(tx, sender, split); err != nil {
		return nil, err
	}

	shares := make([]*uint256.Int, len(amounts))
	distributed := new(uint256.Int)
	for i, amt := range amounts {
		share, _ := new(uint256.Int).MulDivOverflow(amt, split.Net, gross)
		if err := tx.move(sender, recipients[i], share); err != nil {
			return nil, err
		}
		shares[i] = share
		distributed.Add(distributed, share)
	}
	tx.incTransfers()

	award, err := l.maybeAward(tx, recipients[0])
	if err != nil {
		return nil, err
	}
	return &BatchResult{
		Gross:  gross,
		Net:    split.Net,
		Burned: split.Burn,
		Pooled: split.Pool,
		Shares: shares,
		Dust:   new(uint256.Int).Sub(split.Net, distributed),
		Award:  award,
	}, nil
}
