package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/idhash"
	"prize-ledger/internal/ledger"
)

var (
	owner   = idhash.AddressFromSeed("owner")
	spender = idhash.AddressFromSeed("spender")
	admin   = idhash.AddressFromSeed("admin")
)

func TestBook_ConsumeAllowance(t *testing.T) {
	b := NewBook()
	ctx := context.Background()

	if err := b.Approve(owner, spender, uint256.NewInt(100)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := b.ConsumeAllowance(ctx, owner, spender, uint256.NewInt(60)); err != nil {
		t.Fatalf("ConsumeAllowance failed: %v", err)
	}
	if got := b.Allowance(owner, spender).Uint64(); got != 40 {
		t.Errorf("Allowance = %d, want 40", got)
	}

	err := b.ConsumeAllowance(ctx, owner, spender, uint256.NewInt(41))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := b.Allowance(owner, spender).Uint64(); got != 40 {
		t.Errorf("failed consume changed allowance to %d", got)
	}

	if err := b.ConsumeAllowance(ctx, owner, spender, uint256.NewInt(40)); err != nil {
		t.Fatalf("ConsumeAllowance failed: %v", err)
	}
	if !b.Allowance(owner, spender).IsZero() {
		t.Errorf("expected exhausted allowance")
	}
}

func TestBook_ConsumeWithoutApproval(t *testing.T) {
	b := NewBook()
	err := b.ConsumeAllowance(context.Background(), owner, spender, uint256.NewInt(1))
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestBook_RestoreAllowance(t *testing.T) {
	b := NewBook()
	ctx := context.Background()

	if err := b.Approve(owner, spender, uint256.NewInt(10)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := b.ConsumeAllowance(ctx, owner, spender, uint256.NewInt(10)); err != nil {
		t.Fatalf("ConsumeAllowance failed: %v", err)
	}
	b.RestoreAllowance(ctx, owner, spender, uint256.NewInt(10))

	if got := b.Allowance(owner, spender).Uint64(); got != 10 {
		t.Errorf("Allowance after restore = %d, want 10", got)
	}
}

func TestBook_ApproveZeroRevokes(t *testing.T) {
	b := NewBook()
	if err := b.Approve(owner, spender, uint256.NewInt(5)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := b.Approve(owner, spender, new(uint256.Int)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !b.Allowance(owner, spender).IsZero() {
		t.Errorf("expected revoked allowance")
	}
}

func TestBook_ApproveRejectsZeroAddress(t *testing.T) {
	b := NewBook()
	if err := b.Approve(domain.ZeroAddress, spender, uint256.NewInt(1)); !errors.Is(err, ledger.ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestBook_RequireAdmin(t *testing.T) {
	b := NewBook(admin)
	ctx := context.Background()

	if err := b.RequireAdmin(ctx, admin); err != nil {
		t.Errorf("RequireAdmin(admin) = %v", err)
	}
	if err := b.RequireAdmin(ctx, owner); !errors.Is(err, ledger.ErrNotAdmin) {
		t.Errorf("expected ErrNotAdmin, got %v", err)
	}

	b.AddAdmin(owner)
	if err := b.RequireAdmin(ctx, owner); err != nil {
		t.Errorf("RequireAdmin after AddAdmin = %v", err)
	}
}

func TestBook_Allowances(t *testing.T) {
	b := NewBook()
	if got := b.Allowances(); len(got) != 0 {
		t.Fatalf("empty book lists %d allowances", len(got))
	}

	other := idhash.AddressFromSeed("other")
	for _, a := range []domain.Allowance{
		{Owner: owner, Spender: spender, Amount: uint256.NewInt(5)},
		{Owner: other, Spender: spender, Amount: uint256.NewInt(7)},
		{Owner: owner, Spender: other, Amount: uint256.NewInt(9)},
	} {
		if err := b.Approve(a.Owner, a.Spender, a.Amount); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
	}
	if err := b.Approve(owner, other, new(uint256.Int)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	got := b.Allowances()
	if len(got) != 2 {
		t.Fatalf("Allowances() = %d entries, want 2", len(got))
	}
	sorted := append([]domain.Allowance(nil), got...)
	domain.SortAllowances(sorted)
	for i := range got {
		if got[i].Owner != sorted[i].Owner || got[i].Spender != sorted[i].Spender {
			t.Errorf("Allowances() not sorted at %d", i)
		}
	}

	got[0].Amount.SetUint64(1000)
	if b.Allowance(got[0].Owner, got[0].Spender).Uint64() == 1000 {
		t.Error("Allowances() must return copies")
	}
}
