package ledger

import (
	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// TaxSplit is the decomposition of a gross transfer amount.
// Net + Burn + Pool == Gross exactly.
type TaxSplit struct {
	Gross *uint256.Int
	Net   *uint256.Int
	Tax   *uint256.Int
	Burn  *uint256.Int
	Pool  *uint256.Int
}

// ComputeTax splits gross into the net amount, the burned share and the prize
// pool share. The pool takes the rounding remainder of the tax.
func ComputeTax(cfg Config, gross *uint256.Int) (TaxSplit, error) {
	if gross == nil || gross.IsZero() {
		return TaxSplit{}, ErrZeroAmount
	}
	tax := cfg.Tax.Of(gross)
	burn := new(uint256.Int)
	if !tax.IsZero() {
		burn = cfg.BurnShare.Of(tax)
	}
	return TaxSplit{
		Gross: gross.Clone(),
		Net:   new(uint256.Int).Sub(gross, tax),
		Tax:   tax,
		Burn:  burn,
		Pool:  new(uint256.Int).Sub(tax, burn),
	}, nil
}

// applyTax burns the burn share from payer, moves the pool share to the
// system account's prize pool and records the TAX event. The caller checked
// payer holds split.Gross.
func (l *Ledger) applyTax(tx *txn, payer domain.Address, split TaxSplit) error {
	if err := tx.burn(payer, split.Burn); err != nil {
		return err
	}
	if !split.Pool.IsZero() {
		if err := tx.move(payer, l.system, split.Pool); err != nil {
			return err
		}
		tx.add(&l.st.tokenPrizePool, split.Pool)
	}
	tx.emit(domain.Event{Kind: domain.EventTax, From: payer, Amount: split.Pool.Clone()})
	return nil
}
