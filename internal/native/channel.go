// Package native simulates the reserve currency held outside the ledger.
// Accounts hold native balances; the ledger pays out through SendNative and
// callers pay in through Pay.
package native

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
)

var (
	// ErrInsufficientFunds is returned when a payer cannot cover a payment.
	ErrInsufficientFunds = errors.New("insufficient native funds")

	// ErrRejected is returned for sends to an account marked with FailFor.
	ErrRejected = errors.New("recipient rejected native transfer")
)

// ReceiveHook runs after a send has been credited. It receives the send's
// context; calling back into the ledger with it is a reentrant call.
type ReceiveHook func(ctx context.Context, to domain.Address, amount *uint256.Int) error

// Channel is an in-memory native-value channel. It implements ledger.ValueChannel.
type Channel struct {
	mu       sync.Mutex
	balances map[domain.Address]*uint256.Int
	failing  map[domain.Address]error
	hook     ReceiveHook
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{
		balances: make(map[domain.Address]*uint256.Int),
		failing:  make(map[domain.Address]error),
	}
}

// Compile-time interface check.
var _ ledger.ValueChannel = (*Channel)(nil)

// Fund credits account with amount of native currency.
func (c *Channel) Fund(account domain.Address, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(account, amount)
}

// BalanceOf returns the native balance of account.
func (c *Channel) BalanceOf(account domain.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[account]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// FailFor makes every send to account fail with err. A nil err clears it.
func (c *Channel) FailFor(account domain.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failing, account)
		return
	}
	c.failing[account] = err
}

// OnReceive installs a hook run after every successful send.
func (c *Channel) OnReceive(hook ReceiveHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

// SendNative credits to with amount. A hook error fails the send and takes the
// credit back.
func (c *Channel) SendNative(ctx context.Context, to domain.Address, amount *uint256.Int) error {
	c.mu.Lock()
	if err, ok := c.failing[to]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	c.credit(to, amount)
	hook := c.hook
	c.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, to, amount); err != nil {
		c.mu.Lock()
		_ = c.debit(to, amount)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Pay debits amount from payer and runs deliver, which hands the value to the
// ledger. The payment is refunded if deliver fails.
func (c *Channel) Pay(ctx context.Context, payer domain.Address, amount *uint256.Int, deliver func(ctx context.Context) error) error {
	c.mu.Lock()
	if err := c.debit(payer, amount); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := deliver(ctx); err != nil {
		c.mu.Lock()
		c.credit(payer, amount)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Channel) credit(account domain.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	b, ok := c.balances[account]
	if !ok {
		b = new(uint256.Int)
		c.balances[account] = b
	}
	b.Add(b, amount)
}

func (c *Channel) debit(account domain.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	b, ok := c.balances[account]
	if !ok || b.Lt(amount) {
		have := "0"
		if ok {
			have = b.Dec()
		}
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, account, have, amount.Dec())
	}
	b.Sub(b, amount)
	if b.IsZero() {
		delete(c.balances, account)
	}
	return nil
}
