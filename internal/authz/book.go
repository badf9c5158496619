// Package authz keeps spending allowances and the administrator set.
package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
)

// Book is an in-memory allowance book with an administrator set.
// It implements ledger.Authorizer.
type Book struct {
	mu         sync.RWMutex
	allowances map[domain.Address]map[domain.Address]*uint256.Int // owner -> spender -> amount
	admins     map[domain.Address]struct{}
}

// NewBook creates a book whose administrators are admins.
func NewBook(admins ...domain.Address) *Book {
	b := &Book{
		allowances: make(map[domain.Address]map[domain.Address]*uint256.Int),
		admins:     make(map[domain.Address]struct{}, len(admins)),
	}
	for _, a := range admins {
		b.admins[a] = struct{}{}
	}
	return b
}

// Compile-time interface check.
var _ ledger.Authorizer = (*Book)(nil)

// Approve sets the amount spender may move out of owner's balance.
// A zero amount removes the allowance.
func (b *Book) Approve(owner, spender domain.Address, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return fmt.Errorf("%w: zero owner or spender", ledger.ErrInvalidAccount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if amount == nil || amount.IsZero() {
		b.remove(owner, spender)
		return nil
	}
	spenders, ok := b.allowances[owner]
	if !ok {
		spenders = make(map[domain.Address]*uint256.Int)
		b.allowances[owner] = spenders
	}
	spenders[spender] = amount.Clone()
	return nil
}

// Allowance returns what spender may still move out of owner's balance.
func (b *Book) Allowance(owner, spender domain.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if a, ok := b.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Allowances lists every non-zero allowance, ordered by owner and spender.
func (b *Book) Allowances() []domain.Allowance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.Allowance
	for owner, spenders := range b.allowances {
		for spender, amount := range spenders {
			out = append(out, domain.Allowance{Owner: owner, Spender: spender, Amount: amount.Clone()})
		}
	}
	domain.SortAllowances(out)
	return out
}

// ConsumeAllowance deducts amount from spender's allowance over owner's funds.
func (b *Book) ConsumeAllowance(_ context.Context, owner, spender domain.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.allowances[owner][spender]
	if !ok || current.Lt(amount) {
		have := "0"
		if ok {
			have = current.Dec()
		}
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
			ledger.ErrInsufficientAllowance, spender, have, owner, amount.Dec())
	}
	current.Sub(current, amount)
	if current.IsZero() {
		b.remove(owner, spender)
	}
	return nil
}

// RestoreAllowance gives back an allowance consumed by a rolled-back operation.
func (b *Book) RestoreAllowance(_ context.Context, owner, spender domain.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	spenders, ok := b.allowances[owner]
	if !ok {
		spenders = make(map[domain.Address]*uint256.Int)
		b.allowances[owner] = spenders
	}
	if current, ok := spenders[spender]; ok {
		current.Add(current, amount)
		return
	}
	spenders[spender] = amount.Clone()
}

// AddAdmin grants administrative rights to account.
func (b *Book) AddAdmin(account domain.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.admins[account] = struct{}{}
}

// IsAdmin reports whether account is an administrator.
func (b *Book) IsAdmin(account domain.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.admins[account]
	return ok
}

// RequireAdmin fails with ledger.ErrNotAdmin unless caller is an administrator.
func (b *Book) RequireAdmin(_ context.Context, caller domain.Address) error {
	if !b.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ledger.ErrNotAdmin, caller)
	}
	return nil
}

func (b *Book) remove(owner, spender domain.Address) {
	spenders, ok := b.allowances[owner]
	if !ok {
		return
	}
	delete(spenders, spender)
	if len(spenders) == 0 {
		delete(b.allowances, owner)
	}
}
