package ledger

import (
	"context"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// BalanceStore holds ledger-unit balances. The ledger checks sufficiency before
// every debit; a store error therefore indicates a broken store.
type BalanceStore interface {
	// BalanceOf returns the balance of account, zero if unknown.
	BalanceOf(account domain.Address) *uint256.Int

	// TotalSupply returns the sum of all balances.
	TotalSupply() *uint256.Int

	// Mint credits account and grows the total supply.
	Mint(account domain.Address, amount *uint256.Int) error

	// TransferInternal moves amount between accounts. Fails on insufficient funds.
	TransferInternal(from, to domain.Address, amount *uint256.Int) error

	// Burn debits account and shrinks the total supply. Fails on insufficient funds.
	Burn(account domain.Address, amount *uint256.Int) error

	// Holders returns a copy of all non-zero balances.
	Holders() map[domain.Address]*uint256.Int
}

// Authorizer keeps allowances and checks administrative rights.
type Authorizer interface {
	// Approve sets what spender may move out of owner's balance. Zero removes it.
	Approve(owner, spender domain.Address, amount *uint256.Int) error

	// Allowance returns what spender may still move out of owner's balance.
	Allowance(owner, spender domain.Address) *uint256.Int

	// Allowances lists every non-zero allowance.
	Allowances() []domain.Allowance

	// ConsumeAllowance deducts amount from the spender's allowance over owner's funds.
	ConsumeAllowance(ctx context.Context, owner, spender domain.Address, amount *uint256.Int) error

	// RestoreAllowance gives back an allowance consumed by a rolled-back operation.
	RestoreAllowance(ctx context.Context, owner, spender domain.Address, amount *uint256.Int)

	// RequireAdmin fails unless caller is an administrator.
	RequireAdmin(ctx context.Context, caller domain.Address) error
}

// ValueChannel sends reserve currency out of the system account.
//
// SendNative runs with the ledger locked. Any mutating call made while it runs
// fails with ErrReentrantCall. Reads wait for the send to return unless they
// carry the ctx given to SendNative, so a recipient reading the ledger from
// inside the send must pass that ctx.
type ValueChannel interface {
	SendNative(ctx context.Context, to domain.Address, amount *uint256.Int) error
}

// EventSink receives the events of each committed operation, in order.
// Publish is called with the ledger locked and must not call back into it.
type EventSink interface {
	Publish(events []domain.Event)
}
