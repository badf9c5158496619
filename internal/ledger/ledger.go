// Package ledger implements the prize ledger engine: taxed transfers, the
// reserve-to-ledger swap pool, the one-time claim, the prize lottery and the
// treasury. All state lives in one aggregate guarded by one lock; every
// mutating operation commits completely or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/idhash"
	"prize-ledger/internal/observability"
	"prize-ledger/internal/verification"
)

// Options holds the collaborators and genesis accounts of a Ledger.
type Options struct {
	// LedgerID names the ledger in event ids and derives the system account.
	// Defaults to a random UUID.
	LedgerID string

	// Deployer receives the deployer allocation at genesis.
	Deployer domain.Address
	// Marketing receives the marketing allocation at genesis. Ignored when the
	// claim path is enabled.
	Marketing domain.Address

	Store      BalanceStore
	Authorizer Authorizer
	Value      ValueChannel

	Entropy EntropySource   // defaults to BlockEntropy
	Clock   clockwork.Clock // defaults to the real clock
	Sinks   []EventSink
	Logger  *slog.Logger
}

// Ledger is the prize ledger engine. It is safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex
	// sending is set while an external send runs with mu held.
	sending atomic.Bool

	cfg    Config
	alloc  Allocation
	id     string
	system domain.Address

	store   BalanceStore
	auth    Authorizer
	value   ValueChannel
	entropy EntropySource
	clock   clockwork.Clock
	sinks   []EventSink
	log     *slog.Logger

	st state
}

// state is the mutable aggregate. Every field is changed only through a txn.
type state struct {
	initialSupply    uint256.Int
	totalBurned      uint256.Int
	totalSwapped     uint256.Int
	totalTransfers   uint64
	tokenPrizePool   uint256.Int
	lastPrizeTime    time.Time // zero = never
	reserve          uint256.Int
	airdropRemaining uint256.Int
	claimed          map[domain.Address]struct{}
	seq              uint64
	blockSeed        [32]byte
}

// New validates cfg, mints the total supply and partitions it between the
// deployer, the marketing account (or the airdrop allocation) and the swap pool.
func New(cfg Config, opts Options) (*Ledger, error) {
	l, err := newLedger(cfg, opts)
	if err != nil {
		return nil, err
	}
	if !l.store.TotalSupply().IsZero() {
		return nil, errors.New("balance store must be empty at genesis")
	}
	if opts.Deployer.IsZero() {
		return nil, fmt.Errorf("%w: deployer is required", ErrInvalidAccount)
	}
	if cfg.Claim == nil && opts.Marketing.IsZero() {
		return nil, fmt.Errorf("%w: marketing account is required", ErrInvalidAccount)
	}

	l.st.blockSeed = idhash.GenesisBlockSeed(l.id)
	err = l.run(context.Background(), "genesis", func(tx *txn) error {
		return l.genesis(tx, opts.Deployer, opts.Marketing)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("ledger created",
		"ledger_id", l.id,
		"system", l.system.String(),
		"preset", cfg.Name,
		"total_supply", cfg.TotalSupply.Dec(),
		"swap_pool_limit", l.alloc.SwapPoolLimit.Dec())
	return l, nil
}

// Restore rebuilds a ledger from a snapshot. The snapshot must satisfy the
// conservation invariants and match cfg; the store must be empty.
func Restore(cfg Config, snap *domain.Snapshot, opts Options) (*Ledger, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	opts.LedgerID = snap.LedgerID
	l, err := newLedger(cfg, opts)
	if err != nil {
		return nil, err
	}
	if snap.LedgerID == "" {
		return nil, fmt.Errorf("%w: missing ledger id", ErrInvalidSnapshot)
	}
	if snap.System != l.system {
		return nil, fmt.Errorf("%w: system account %s does not derive from ledger %s",
			ErrInvalidSnapshot, snap.System, snap.LedgerID)
	}
	limits := verification.Limits{
		InitialSupply: cfg.TotalSupply,
		SwapPoolLimit: l.alloc.SwapPoolLimit,
	}
	if err := verification.VerifySnapshot(snap, limits); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if !l.store.TotalSupply().IsZero() {
		return nil, errors.New("balance store must be empty to restore")
	}

	for account, balance := range snap.Balances {
		if balance == nil || balance.IsZero() {
			continue
		}
		if err := l.store.Mint(account, balance); err != nil {
			return nil, fmt.Errorf("restore balance of %s: %w", account, err)
		}
	}

	st := &l.st
	st.initialSupply.Set(snap.InitialSupply)
	st.totalBurned.Set(orZero(snap.TotalBurned))
	st.totalSwapped.Set(orZero(snap.TotalSwapped))
	st.totalTransfers = snap.TotalTransfers
	st.tokenPrizePool.Set(orZero(snap.TokenPrizePool))
	if snap.LastPrizeTime != 0 {
		st.lastPrizeTime = time.UnixMilli(snap.LastPrizeTime)
	}
	st.reserve.Set(orZero(snap.Reserve))
	st.airdropRemaining.Set(orZero(snap.AirdropRemaining))
	for _, a := range snap.Claimed {
		st.claimed[a] = struct{}{}
	}
	for _, a := range snap.Allowances {
		if err := l.auth.Approve(a.Owner, a.Spender, a.Amount); err != nil {
			return nil, fmt.Errorf("%w: allowance of %s over %s: %w", ErrInvalidSnapshot, a.Spender, a.Owner, err)
		}
	}
	st.seq = snap.Seq
	st.blockSeed = snap.BlockSeed

	l.log.Info("ledger restored", "ledger_id", l.id, "seq", st.seq, "holders", len(snap.Balances))
	return l, nil
}

// GenesisSnapshot returns the state of ledgerID before its first event: no
// balances, and the airdrop allocation reserved when claims are enabled.
// Folding the whole event log of the ledger onto it yields its current state.
func GenesisSnapshot(cfg Config, ledgerID string) (*domain.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if ledgerID == "" {
		return nil, errors.New("ledger id is required")
	}
	system, _, err := idhash.DeriveSystemAddress(ledgerID)
	if err != nil {
		return nil, fmt.Errorf("derive system account: %w", err)
	}

	airdrop := new(uint256.Int)
	if cfg.Claim != nil {
		airdrop = cfg.Allocate().Marketing.Clone()
	}
	return &domain.Snapshot{
		LedgerID:         ledgerID,
		System:           system,
		Balances:         make(map[domain.Address]*uint256.Int),
		InitialSupply:    new(uint256.Int),
		TotalBurned:      new(uint256.Int),
		TotalSwapped:     new(uint256.Int),
		TokenPrizePool:   new(uint256.Int),
		Reserve:          new(uint256.Int),
		AirdropRemaining: airdrop,
		Claimed:          []domain.Address{},
		BlockSeed:        idhash.GenesisBlockSeed(ledgerID),
	}, nil
}

func newLedger(cfg Config, opts Options) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Store == nil {
		return nil, errors.New("balance store is required")
	}
	if opts.Authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if opts.Value == nil {
		return nil, errors.New("value channel is required")
	}

	id := opts.LedgerID
	if id == "" {
		id = uuid.NewString()
	}
	system, _, err := idhash.DeriveSystemAddress(id)
	if err != nil {
		return nil, fmt.Errorf("derive system account: %w", err)
	}

	l := &Ledger{
		cfg:     cfg,
		alloc:   cfg.Allocate(),
		id:      id,
		system:  system,
		store:   opts.Store,
		auth:    opts.Authorizer,
		value:   opts.Value,
		entropy: opts.Entropy,
		clock:   opts.Clock,
		sinks:   opts.Sinks,
		log:     opts.Logger,
	}
	if l.entropy == nil {
		l.entropy = BlockEntropy{}
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	if l.log == nil {
		l.log = slog.New(slog.DiscardHandler)
	}
	l.log = l.log.With("component", "ledger")
	l.st.claimed = make(map[domain.Address]struct{})
	return l, nil
}

func (l *Ledger) genesis(tx *txn, deployer, marketing domain.Address) error {
	st := &l.st
	if err := tx.mint(deployer, l.alloc.Deployer); err != nil {
		return err
	}
	if l.cfg.Claim != nil {
		if err := tx.mint(l.system, l.alloc.Marketing); err != nil {
			return err
		}
		tx.set(&st.airdropRemaining, l.alloc.Marketing)
	} else if err := tx.mint(marketing, l.alloc.Marketing); err != nil {
		return err
	}
	if err := tx.mint(l.system, l.alloc.SwapPool); err != nil {
		return err
	}
	tx.set(&st.initialSupply, l.cfg.TotalSupply)
	return nil
}

// ID returns the ledger id.
func (l *Ledger) ID() string { return l.id }

// SystemAddress returns the system account that holds the swap pool, the prize
// pool and the airdrop allocation.
func (l *Ledger) SystemAddress() domain.Address { return l.system }

// Config returns the configuration the ledger was created with.
func (l *Ledger) Config() Config { return l.cfg }

// Allocation returns the genesis partition of the supply.
func (l *Ledger) Allocation() Allocation { return l.alloc }

// interactionKey marks the context handed to an external send.
type interactionKey struct{}

func (l *Ledger) inInteraction(ctx context.Context) bool {
	owner, _ := ctx.Value(interactionKey{}).(*Ledger)
	return owner == l
}

// exec runs fn as one atomic operation. Calls arriving while a send is in
// flight are rejected instead of deadlocking, whatever context they carry.
func (l *Ledger) exec(ctx context.Context, op string, fn func(tx *txn) error) error {
	if l.inInteraction(ctx) || l.sending.Load() {
		observability.RecordReentrantCall()
		l.log.Warn("reentrant call rejected", "op", op)
		return fmt.Errorf("%s: %w", op, ErrReentrantCall)
	}
	return l.run(ctx, op, fn)
}

func (l *Ledger) run(ctx context.Context, op string, fn func(tx *txn) error) error {
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &txn{l: l, ctx: ctx, now: l.clock.Now()}
	if err := fn(tx); err != nil {
		tx.rollback()
		observability.RecordOperation(op, KindOf(err).String(), time.Since(start).Seconds())
		l.log.Debug("operation failed", "op", op, "kind", KindOf(err).String(), "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	l.commit(tx)
	observability.RecordOperation(op, "ok", time.Since(start).Seconds())
	return nil
}

// commit sequences the buffered events, advancing the block seed past each
// one, and publishes them.
func (l *Ledger) commit(tx *txn) {
	st := &l.st
	ts := tx.now.UnixMilli()
	for i := range tx.events {
		st.seq++
		e := &tx.events[i]
		e.Seq = st.seq
		e.ID = idhash.ComputeEventID(l.id, e.Seq, e.Kind)
		e.Timestamp = ts
		st.blockSeed = idhash.NextBlockSeed(st.blockSeed, e.Seq)

		observability.RecordEventCommitted(e.Kind.String())
		if e.Kind == domain.EventPrize {
			observability.RecordPrizeAwarded()
		}
	}

	observability.UpdateLedgerState(observability.LedgerState{
		Decimals:       l.cfg.Decimals,
		TotalSupply:    l.store.TotalSupply(),
		TotalBurned:    &st.totalBurned,
		TotalSwapped:   &st.totalSwapped,
		TokenPrizePool: &st.tokenPrizePool,
		Reserve:        &st.reserve,
		TotalTransfers: st.totalTransfers,
	})

	if len(tx.events) == 0 {
		return
	}
	for _, sink := range l.sinks {
		sink.Publish(tx.events)
	}
}

// read takes the read lock unless ctx belongs to an in-flight send, in which
// case the write lock is already held by the caller's operation.
func (l *Ledger) read(ctx context.Context) func() {
	if l.inInteraction(ctx) {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}

// send performs an external value send with a context marking the interaction.
func (l *Ledger) send(tx *txn, to domain.Address, amount *uint256.Int) error {
	ctx := context.WithValue(tx.ctx, interactionKey{}, l)
	l.sending.Store(true)
	defer l.sending.Store(false)
	return l.value.SendNative(ctx, to, amount)
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
