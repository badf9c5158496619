package domain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// Snapshot is the complete ledger aggregate at a committed sequence number.
// Corresponds to ledger_snapshots table in PostgreSQL.
type Snapshot struct {
	LedgerID         string
	System           Address
	Seq              uint64 // last committed event seq
	TakenAt          int64  // unix milliseconds
	Balances         map[Address]*uint256.Int
	InitialSupply    *uint256.Int
	TotalBurned      *uint256.Int
	TotalSwapped     *uint256.Int
	TotalTransfers   uint64
	TokenPrizePool   *uint256.Int
	LastPrizeTime    int64 // unix milliseconds, 0 = never
	Reserve          *uint256.Int
	AirdropRemaining *uint256.Int
	Claimed          []Address
	Allowances       []Allowance
	BlockSeed        [32]byte
}

// Allowance is what Spender may still move out of Owner's balance.
type Allowance struct {
	Owner   Address
	Spender Address
	Amount  *uint256.Int
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Balances = make(map[Address]*uint256.Int, len(s.Balances))
	for a, b := range s.Balances {
		c.Balances[a] = cloneAmount(b)
	}
	for _, f := range []**uint256.Int{
		&c.InitialSupply, &c.TotalBurned, &c.TotalSwapped,
		&c.TokenPrizePool, &c.Reserve, &c.AirdropRemaining,
	} {
		*f = cloneAmount(*f)
	}
	c.Claimed = append([]Address(nil), s.Claimed...)
	c.Allowances = nil
	for _, a := range s.Allowances {
		a.Amount = cloneAmount(a.Amount)
		c.Allowances = append(c.Allowances, a)
	}
	return &c
}

// SortAddresses orders addresses by their bytes.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}

// SortAllowances orders allowances by owner, then spender.
func SortAllowances(allowances []Allowance) {
	sort.Slice(allowances, func(i, j int) bool {
		if c := bytes.Compare(allowances[i].Owner[:], allowances[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(allowances[i].Spender[:], allowances[j].Spender[:]) < 0
	})
}

func cloneAmount(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}

// SumBalances returns the sum of all balances.
func (s *Snapshot) SumBalances() *uint256.Int {
	sum := new(uint256.Int)
	for _, b := range s.Balances {
		sum.Add(sum, b)
	}
	return sum
}

// BalanceOf returns the balance of account, zero if absent.
func (s *Snapshot) BalanceOf(account Address) *uint256.Int {
	if b, ok := s.Balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}

type snapshotJSON struct {
	LedgerID         string            `json:"ledger_id"`
	System           Address           `json:"system"`
	Seq              uint64            `json:"seq"`
	TakenAt          int64             `json:"taken_at_ms"`
	Balances         map[string]string `json:"balances"`
	InitialSupply    string            `json:"initial_supply"`
	TotalBurned      string            `json:"total_burned"`
	TotalSwapped     string            `json:"total_swapped"`
	TotalTransfers   uint64            `json:"total_transfers"`
	TokenPrizePool   string            `json:"token_prize_pool"`
	LastPrizeTime    int64             `json:"last_prize_time_ms"`
	Reserve          string            `json:"reserve"`
	AirdropRemaining string            `json:"airdrop_remaining"`
	Claimed          []Address         `json:"claimed"`
	Allowances       []allowanceJSON   `json:"allowances,omitempty"`
	BlockSeed        string            `json:"block_seed"`
}

type allowanceJSON struct {
	Owner   Address `json:"owner"`
	Spender Address `json:"spender"`
	Amount  string  `json:"amount"`
}

// MarshalJSON encodes amounts as decimal strings, claimed addresses and
// allowances in sorted order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	balances := make(map[string]string, len(s.Balances))
	for addr, b := range s.Balances {
		balances[addr.String()] = FormatAmount(b)
	}
	claimed := append([]Address(nil), s.Claimed...)
	SortAddresses(claimed)
	sorted := append([]Allowance(nil), s.Allowances...)
	SortAllowances(sorted)
	var allowances []allowanceJSON
	for _, a := range sorted {
		allowances = append(allowances, allowanceJSON{Owner: a.Owner, Spender: a.Spender, Amount: FormatAmount(a.Amount)})
	}

	return json.Marshal(&snapshotJSON{
		LedgerID:         s.LedgerID,
		System:           s.System,
		Seq:              s.Seq,
		TakenAt:          s.TakenAt,
		Balances:         balances,
		InitialSupply:    FormatAmount(s.InitialSupply),
		TotalBurned:      FormatAmount(s.TotalBurned),
		TotalSwapped:     FormatAmount(s.TotalSwapped),
		TotalTransfers:   s.TotalTransfers,
		TokenPrizePool:   FormatAmount(s.TokenPrizePool),
		LastPrizeTime:    s.LastPrizeTime,
		Reserve:          FormatAmount(s.Reserve),
		AirdropRemaining: FormatAmount(s.AirdropRemaining),
		Claimed:          claimed,
		Allowances:       allowances,
		BlockSeed:        hex.EncodeToString(s.BlockSeed[:]),
	})
}

// UnmarshalJSON decodes the MarshalJSON form.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var aux snapshotJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	balances := make(map[Address]*uint256.Int, len(aux.Balances))
	for k, v := range aux.Balances {
		addr, err := ParseAddress(k)
		if err != nil {
			return fmt.Errorf("balance key: %w", err)
		}
		amount, err := ParseAmount(v)
		if err != nil {
			return err
		}
		balances[addr] = amount
	}

	amounts := []struct {
		dst **uint256.Int
		src string
	}{
		{&s.InitialSupply, aux.InitialSupply},
		{&s.TotalBurned, aux.TotalBurned},
		{&s.TotalSwapped, aux.TotalSwapped},
		{&s.TokenPrizePool, aux.TokenPrizePool},
		{&s.Reserve, aux.Reserve},
		{&s.AirdropRemaining, aux.AirdropRemaining},
	}
	for _, a := range amounts {
		v, err := ParseAmount(a.src)
		if err != nil {
			return err
		}
		*a.dst = v
	}

	var allowances []Allowance
	for _, a := range aux.Allowances {
		amount, err := ParseAmount(a.Amount)
		if err != nil {
			return err
		}
		allowances = append(allowances, Allowance{Owner: a.Owner, Spender: a.Spender, Amount: amount})
	}

	seed, err := hex.DecodeString(aux.BlockSeed)
	if err != nil {
		return fmt.Errorf("decode block seed: %w", err)
	}
	if len(seed) != len(s.BlockSeed) && len(seed) != 0 {
		return fmt.Errorf("block seed: got %d bytes, want %d", len(seed), len(s.BlockSeed))
	}
	copy(s.BlockSeed[:], seed)

	s.LedgerID = aux.LedgerID
	s.System = aux.System
	s.Seq = aux.Seq
	s.TakenAt = aux.TakenAt
	s.Balances = balances
	s.TotalTransfers = aux.TotalTransfers
	s.LastPrizeTime = aux.LastPrizeTime
	s.Claimed = aux.Claimed
	s.Allowances = allowances
	return nil
}
