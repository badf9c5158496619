package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"prize-ledger/internal/authz"
	"prize-ledger/internal/domain"
	"prize-ledger/internal/idhash"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/native"
	"prize-ledger/internal/storage/memory"
)

const testLedgerID = "test-ledger"

var (
	deployer  = idhash.AddressFromSeed("deployer")
	marketing = idhash.AddressFromSeed("marketing")
	admin     = idhash.AddressFromSeed("admin")
	alice     = idhash.AddressFromSeed("alice")
	bob       = idhash.AddressFromSeed("bob")
	carol     = idhash.AddressFromSeed("carol")

	genesisTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// smallConfig is a zero-decimal ledger whose numbers are easy to follow:
// 110,000 deployer / 490,000 marketing / 400,000 swap pool (380,000 usable).
func smallConfig() ledger.Config {
	return ledger.Config{
		Name:              "small",
		TotalSupply:       u(1_000_000),
		DeployerBps:       1100,
		MarketingBps:      4900,
		SwapPoolBps:       4000,
		SwapPoolUsableBps: 9500,
		Tax:               ledger.Fraction{Num: 1, Den: 100},
		BurnShare:         ledger.Fraction{Num: 50, Den: 100},
		RateStrategy:      ledger.RateFixed,
		BaseRate:          10,
		MinSwap:           u(1),
		LotteryOdds:       10,
		WinShare:          ledger.Fraction{Num: 50, Den: 100},
		Cooldown:          time.Hour,
		PayoutPolicy:      ledger.PayoutAbortTransfer,
		MaxBatch:          10,
	}
}

// recordingSink keeps every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	calls  int
}

func (s *recordingSink) Publish(events []domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	s.calls++
}

func (s *recordingSink) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func (s *recordingSink) since(seq uint64) []domain.Event {
	var out []domain.Event
	for _, e := range s.all() {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	cfg    ledger.Config
	l      *ledger.Ledger
	book   *authz.Book
	native *native.Channel
	clock  *clockwork.FakeClock
	sink   *recordingSink

	mu   sync.Mutex
	draw *uint256.Int
}

func newFixture(t *testing.T, cfg ledger.Config) *fixture {
	t.Helper()

	f := &fixture{
		cfg:    cfg,
		book:   authz.NewBook(admin),
		native: native.NewChannel(),
		clock:  clockwork.NewFakeClockAt(genesisTime),
		sink:   &recordingSink{},
	}
	f.lose()

	l, err := ledger.New(cfg, f.options(memory.NewBalanceStore()))
	require.NoError(t, err)
	f.l = l
	return f
}

func (f *fixture) options(store ledger.BalanceStore) ledger.Options {
	return ledger.Options{
		LedgerID:   testLedgerID,
		Deployer:   deployer,
		Marketing:  marketing,
		Store:      store,
		Authorizer: f.book,
		Value:      f.native,
		Entropy: ledger.EntropyFunc(func(ledger.DrawInput) *uint256.Int {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.draw.Clone()
		}),
		Clock: f.clock,
		Sinks: []ledger.EventSink{f.sink},
	}
}

// win makes every following draw a winning one.
func (f *fixture) win() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draw = new(uint256.Int)
}

// lose makes every following draw a losing one. Needs LotteryOdds > 1.
func (f *fixture) lose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draw = u(1)
}

func (f *fixture) balance(a domain.Address) uint64 {
	return f.l.BalanceOf(context.Background(), a).Uint64()
}

func kinds(events []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}
