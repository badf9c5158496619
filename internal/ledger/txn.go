package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// txn is the undo journal of one operation. Mutations apply immediately and
// record their inverse; rollback replays the inverses newest first.
type txn struct {
	l      *Ledger
	ctx    context.Context
	now    time.Time
	undo   []func()
	events []domain.Event
}

type savepoint struct {
	undo   int
	events int
}

func (tx *txn) savepoint() savepoint {
	return savepoint{undo: len(tx.undo), events: len(tx.events)}
}

func (tx *txn) rollbackTo(sp savepoint) {
	for i := len(tx.undo) - 1; i >= sp.undo; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:sp.undo]
	tx.events = tx.events[:sp.events]
}

func (tx *txn) rollback() {
	tx.rollbackTo(savepoint{})
}

func (tx *txn) onUndo(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *txn) emit(e domain.Event) {
	tx.events = append(tx.events, e)
}

// set assigns v to dst, journaling the old value.
func (tx *txn) set(dst *uint256.Int, v *uint256.Int) {
	old := *dst
	dst.Set(v)
	tx.onUndo(func() { *dst = old })
}

func (tx *txn) add(dst *uint256.Int, v *uint256.Int) {
	tx.set(dst, new(uint256.Int).Add(dst, v))
}

// sub assumes the caller checked v <= *dst.
func (tx *txn) sub(dst *uint256.Int, v *uint256.Int) {
	tx.set(dst, new(uint256.Int).Sub(dst, v))
}

func (tx *txn) incTransfers() {
	st := &tx.l.st
	st.totalTransfers++
	tx.onUndo(func() { st.totalTransfers-- })
}

func (tx *txn) setLastPrize(t time.Time) {
	st := &tx.l.st
	old := st.lastPrizeTime
	st.lastPrizeTime = t
	tx.onUndo(func() { st.lastPrizeTime = old })
}

func (tx *txn) markClaimed(account domain.Address) {
	claimed := tx.l.st.claimed
	claimed[account] = struct{}{}
	tx.onUndo(func() { delete(claimed, account) })
}

// mint credits a genesis allocation.
func (tx *txn) mint(to domain.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	store := tx.l.store
	if err := store.Mint(to, amount); err != nil {
		return fmt.Errorf("mint to %s: %w", to, err)
	}
	amt := amount.Clone()
	tx.onUndo(func() { _ = store.Burn(to, amt) })
	tx.emit(domain.Event{Kind: domain.EventTransfer, From: domain.ZeroAddress, To: to, Amount: amt})
	return nil
}

// move transfers ledger units between accounts. Zero amounts are no-ops.
func (tx *txn) move(from, to domain.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	store := tx.l.store
	if err := store.TransferInternal(from, to, amount); err != nil {
		return fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}
	amt := amount.Clone()
	tx.onUndo(func() { _ = store.TransferInternal(to, from, amt) })
	tx.emit(domain.Event{Kind: domain.EventTransfer, From: from, To: to, Amount: amt})
	return nil
}

// burn destroys ledger units held by from and counts them as burned.
func (tx *txn) burn(from domain.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	store := tx.l.store
	if err := store.Burn(from, amount); err != nil {
		return fmt.Errorf("burn from %s: %w", from, err)
	}
	amt := amount.Clone()
	tx.onUndo(func() { _ = store.Mint(from, amt) })
	tx.add(&tx.l.st.totalBurned, amt)
	tx.emit(domain.Event{Kind: domain.EventTransfer, From: from, To: domain.ZeroAddress, Amount: amt})
	tx.emit(domain.Event{Kind: domain.EventBurn, From: from, Amount: amt})
	return nil
}
