package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
)

func TestDonateAndReceive(t *testing.T) {
	f := newFixture(t, smallConfig())
	ctx := context.Background()

	require.NoError(t, f.l.Donate(ctx, carol, u(100)))
	require.NoError(t, f.l.Receive(ctx, bob, u(50)))
	assert.Equal(t, uint64(150), f.l.Stats(ctx).Reserve.Uint64())
	assert.Equal(t, uint64(0), f.balance(carol), "donations credit nothing")

	require.ErrorIs(t, f.l.Donate(ctx, carol, u(0)), ledger.ErrZeroAmount)
	require.ErrorIs(t, f.l.Receive(ctx, carol, nil), ledger.ErrZeroAmount)

	events := f.sink.since(3)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventDonation, events[0].Kind)
	assert.Equal(t, carol, events[0].From)
	assert.Equal(t, uint64(100), events[0].Reserve.Uint64())
}

func TestWithdrawReserve(t *testing.T) {
	f := newFixture(t, smallConfig())
	ctx := context.Background()
	require.NoError(t, f.l.Donate(ctx, carol, u(100)))

	err := f.l.WithdrawReserve(ctx, alice, u(10))
	require.ErrorIs(t, err, ledger.ErrNotAdmin)
	assert.Equal(t, ledger.KindPolicy, ledger.KindOf(err))

	require.ErrorIs(t, f.l.WithdrawReserve(ctx, admin, u(101)), ledger.ErrInsufficientReserve)
	require.ErrorIs(t, f.l.WithdrawReserve(ctx, admin, u(0)), ledger.ErrZeroAmount)

	require.NoError(t, f.l.WithdrawReserve(ctx, admin, u(60)))
	assert.Equal(t, uint64(60), f.native.BalanceOf(admin).Uint64())
	assert.Equal(t, uint64(40), f.l.Stats(ctx).Reserve.Uint64())

	last := f.sink.all()
	assert.Equal(t, domain.EventReserveWithdrawal, last[len(last)-1].Kind)
}

func TestWithdrawReserve_FailedSendRollsBack(t *testing.T) {
	f := newFixture(t, smallConfig())
	ctx := context.Background()
	require.NoError(t, f.l.Donate(ctx, carol, u(100)))
	f.native.FailFor(admin, assert.AnError)
	seq := f.l.LastSeq(ctx)

	err := f.l.WithdrawReserve(ctx, admin, u(60))
	require.ErrorIs(t, err, ledger.ErrWithdrawalFailed)
	assert.Equal(t, ledger.KindExternal, ledger.KindOf(err))
	assert.Equal(t, uint64(100), f.l.Stats(ctx).Reserve.Uint64())
	assert.Equal(t, seq, f.l.LastSeq(ctx))
}

func TestWithdrawLedgerSurplus(t *testing.T) {
	f := newFixture(t, smallConfig())
	ctx := context.Background()
	system := f.l.SystemAddress()

	assert.True(t, f.l.Withdrawable(ctx).IsZero())
	require.ErrorIs(t, f.l.WithdrawLedgerSurplus(ctx, admin, u(1)), ledger.ErrSurplusExceeded)

	// a plain transfer to the system account creates surplus: 990 net; the 5 pooled stay committed
	_, err := f.l.Transfer(ctx, deployer, system, u(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(990), f.l.Withdrawable(ctx).Uint64())

	err = f.l.WithdrawLedgerSurplus(ctx, alice, u(10))
	require.ErrorIs(t, err, ledger.ErrNotAdmin)

	err = f.l.WithdrawLedgerSurplus(ctx, admin, u(991))
	require.ErrorIs(t, err, ledger.ErrSurplusExceeded)
	assert.Equal(t, ledger.KindInsufficiency, ledger.KindOf(err))

	require.NoError(t, f.l.WithdrawLedgerSurplus(ctx, admin, u(990)))
	assert.Equal(t, uint64(990), f.balance(admin))
	assert.True(t, f.l.Withdrawable(ctx).IsZero())
	assert.Equal(t, uint64(400_005), f.balance(system))

	// swaps consume the pool and leave no new surplus behind
	_, err = f.l.Swap(ctx, bob, u(100))
	require.NoError(t, err)
	assert.True(t, f.l.Withdrawable(ctx).IsZero())
}

func TestWithdrawLedgerSurplus_BufferIsProtected(t *testing.T) {
	f := newFixture(t, smallConfig())
	ctx := context.Background()

	_, err := f.l.Swap(ctx, alice, u(38_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000), f.balance(f.l.SystemAddress()))
	assert.True(t, f.l.Withdrawable(ctx).IsZero(), "the unswappable buffer is not surplus")
}
