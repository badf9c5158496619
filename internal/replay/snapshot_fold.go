package replay

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/idhash"
)

// SnapshotFold rolls a snapshot forward through the events committed after
// it. Every snapshot field is rebuilt: TRANSFER drives balances and minted
// supply, TAX the transfer count and prize pool, CLAIM the airdrop and claimed
// set, PRIZE the pools and prize time, APPROVAL the allowances. The block seed
// advances past every event as the ledger does.
type SnapshotFold struct {
	snap       *domain.Snapshot
	claimed    map[domain.Address]struct{}
	allowances map[[2]domain.Address]*uint256.Int
}

// NewSnapshotFold starts a fold from a copy of base.
func NewSnapshotFold(base *domain.Snapshot) *SnapshotFold {
	f := &SnapshotFold{
		snap:       base.Clone(),
		claimed:    make(map[domain.Address]struct{}, len(base.Claimed)),
		allowances: make(map[[2]domain.Address]*uint256.Int, len(base.Allowances)),
	}
	if f.snap.Balances == nil {
		f.snap.Balances = make(map[domain.Address]*uint256.Int)
	}
	for _, p := range []**uint256.Int{
		&f.snap.InitialSupply, &f.snap.TotalBurned, &f.snap.TotalSwapped,
		&f.snap.TokenPrizePool, &f.snap.Reserve, &f.snap.AirdropRemaining,
	} {
		if *p == nil {
			*p = new(uint256.Int)
		}
	}
	for _, a := range f.snap.Claimed {
		f.claimed[a] = struct{}{}
	}
	for _, a := range f.snap.Allowances {
		if a.Amount != nil && !a.Amount.IsZero() {
			f.allowances[[2]domain.Address{a.Owner, a.Spender}] = a.Amount
		}
	}
	return f
}

// Compile-time interface check.
var _ ReplayEngine = (*SnapshotFold)(nil)

// OnEvent applies one event. Events must continue the snapshot's sequence.
func (f *SnapshotFold) OnEvent(_ context.Context, e *domain.Event) error {
	s := f.snap
	if e.Seq <= s.Seq {
		return fmt.Errorf("%w: seq %d after %d", ErrInvalidOrdering, e.Seq, s.Seq)
	}
	if e.Seq != s.Seq+1 {
		return fmt.Errorf("%w: seq %d after %d", ErrSequenceGap, e.Seq, s.Seq)
	}

	amount, reserve := e.LedgerAmount(), e.ReserveAmount()
	var err error
	switch e.Kind {
	case domain.EventTransfer:
		if e.From.IsZero() {
			s.InitialSupply.Add(s.InitialSupply, amount)
		} else if err = f.debit(e.From, amount, e.Seq); err != nil {
			return err
		}
		if !e.To.IsZero() {
			f.credit(e.To, amount)
		}
	case domain.EventBurn:
		s.TotalBurned.Add(s.TotalBurned, amount)
	case domain.EventTax:
		s.TotalTransfers++
		s.TokenPrizePool.Add(s.TokenPrizePool, amount)
	case domain.EventSwap:
		s.TotalSwapped.Add(s.TotalSwapped, amount)
		s.Reserve.Add(s.Reserve, reserve)
	case domain.EventClaim:
		if err = sub(s.AirdropRemaining, amount, "airdrop", e.Seq); err == nil {
			f.claimed[e.To] = struct{}{}
		}
	case domain.EventPrize:
		if s.Reserve.Lt(reserve) {
			return fmt.Errorf("%w: reserve at seq %d", ErrNegativeBalance, e.Seq)
		}
		if err = sub(s.TokenPrizePool, amount, "prize pool", e.Seq); err == nil {
			s.Reserve.Sub(s.Reserve, reserve)
			s.LastPrizeTime = e.Timestamp
		}
	case domain.EventDonation:
		s.Reserve.Add(s.Reserve, reserve)
	case domain.EventReserveWithdrawal:
		err = sub(s.Reserve, reserve, "reserve", e.Seq)
	case domain.EventApproval:
		key := [2]domain.Address{e.From, e.To}
		if amount.IsZero() {
			delete(f.allowances, key)
		} else {
			f.allowances[key] = amount.Clone()
		}
	case domain.EventSurplusWithdrawal:
		// the TRANSFER of the same operation moves the units
	default:
		return fmt.Errorf("unknown event kind %q at seq %d", e.Kind, e.Seq)
	}
	if err != nil {
		return err
	}

	s.Seq = e.Seq
	s.TakenAt = e.Timestamp
	s.BlockSeed = idhash.NextBlockSeed(s.BlockSeed, e.Seq)
	return nil
}

// Snapshot returns the rolled-forward state.
func (f *SnapshotFold) Snapshot() *domain.Snapshot {
	out := f.snap.Clone()
	out.Claimed = make([]domain.Address, 0, len(f.claimed))
	for a := range f.claimed {
		out.Claimed = append(out.Claimed, a)
	}
	domain.SortAddresses(out.Claimed)

	out.Allowances = nil
	for key, amount := range f.allowances {
		out.Allowances = append(out.Allowances, domain.Allowance{Owner: key[0], Spender: key[1], Amount: amount.Clone()})
	}
	domain.SortAllowances(out.Allowances)
	return out
}

func (f *SnapshotFold) credit(account domain.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	b, ok := f.snap.Balances[account]
	if !ok {
		b = new(uint256.Int)
		f.snap.Balances[account] = b
	}
	b.Add(b, amount)
}

func (f *SnapshotFold) debit(account domain.Address, amount *uint256.Int, seq uint64) error {
	if amount.IsZero() {
		return nil
	}
	b, ok := f.snap.Balances[account]
	if !ok || b.Lt(amount) {
		return fmt.Errorf("%w: %s at seq %d", ErrNegativeBalance, account, seq)
	}
	b.Sub(b, amount)
	if b.IsZero() {
		delete(f.snap.Balances, account)
	}
	return nil
}

func sub(dst, amount *uint256.Int, what string, seq uint64) error {
	if dst.Lt(amount) {
		return fmt.Errorf("%w: %s at seq %d", ErrNegativeBalance, what, seq)
	}
	dst.Sub(dst, amount)
	return nil
}
