package memory

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// BalanceStore is an in-memory account balance book.
type BalanceStore struct {
	mu       sync.RWMutex
	balances map[domain.Address]*uint256.Int
	supply   uint256.Int
}

// NewBalanceStore creates an empty balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		balances: make(map[domain.Address]*uint256.Int),
	}
}

// BalanceOf returns a copy of the balance of account, zero if unknown.
func (s *BalanceStore) BalanceOf(account domain.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[account]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns the sum of all balances.
func (s *BalanceStore) TotalSupply() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.supply.Clone()
}

// Mint credits account and grows the supply.
func (s *BalanceStore) Mint(account domain.Address, amount *uint256.Int) error {
	if amount == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(&s.supply, amount)
	if overflow {
		return fmt.Errorf("%w: supply overflow", storage.ErrInvalidInput)
	}
	s.credit(account, amount)
	s.supply = *supply
	return nil
}

// TransferInternal moves amount from one account to another.
func (s *BalanceStore) TransferInternal(from, to domain.Address, amount *uint256.Int) error {
	if amount == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debit(from, amount); err != nil {
		return err
	}
	s.credit(to, amount)
	return nil
}

// Burn debits account and shrinks the supply.
func (s *BalanceStore) Burn(account domain.Address, amount *uint256.Int) error {
	if amount == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debit(account, amount); err != nil {
		return err
	}
	s.supply.Sub(&s.supply, amount)
	return nil
}

// Holders returns a copy of all non-zero balances.
func (s *BalanceStore) Holders() map[domain.Address]*uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.Address]*uint256.Int, len(s.balances))
	for a, b := range s.balances {
		out[a] = b.Clone()
	}
	return out
}

func (s *BalanceStore) credit(account domain.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	b, ok := s.balances[account]
	if !ok {
		b = new(uint256.Int)
		s.balances[account] = b
	}
	b.Add(b, amount)
}

func (s *BalanceStore) debit(account domain.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	b, ok := s.balances[account]
	if !ok || b.Lt(amount) {
		return fmt.Errorf("%w: %s", storage.ErrInsufficientFunds, account)
	}
	b.Sub(b, amount)
	if b.IsZero() {
		delete(s.balances, account)
	}
	return nil
}
