package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prize-ledger/internal/api"
	"prize-ledger/internal/authz"
	"prize-ledger/internal/domain"
	"prize-ledger/internal/idhash"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/native"
	"prize-ledger/internal/storage/memory"
)

const testLedgerID = "api-test"

var (
	deployer  = idhash.AddressFromSeed("deployer")
	marketing = idhash.AddressFromSeed("marketing")
	admin     = idhash.AddressFromSeed("admin")
	alice     = idhash.AddressFromSeed("alice")
	bob       = idhash.AddressFromSeed("bob")

	genesisTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// storeSink writes committed events straight into an event store.
type storeSink struct {
	store *memory.EventStore
}

func (s storeSink) Publish(events []domain.Event) {
	_ = s.store.InsertBulk(context.Background(), testLedgerID, events)
}

type testEnv struct {
	l       *ledger.Ledger
	book    *authz.Book
	channel *native.Channel
	events  *memory.EventStore
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := ledger.Config{
		Name:              "api",
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

	env := &testEnv{
		book:    authz.NewBook(admin),
		channel: native.NewChannel(),
		events:  memory.NewEventStore(),
	}
	l, err := ledger.New(cfg, ledger.Options{
		LedgerID:   testLedgerID,
		Deployer:   deployer,
		Marketing:  marketing,
		Store:      memory.NewBalanceStore(),
		Authorizer: env.book,
		Value:      env.channel,
		Entropy:    ledger.EntropyFunc(func(ledger.DrawInput) *uint256.Int { return u(1) }),
		Clock:      clockwork.NewFakeClockAt(genesisTime),
		Sinks:      []ledger.EventSink{storeSink{store: env.events}},
	})
	require.NoError(t, err)
	env.l = l

	srv, err := api.New(api.Options{
		Ledger:    l,
		Book:      env.book,
		Channel:   env.channel,
		Events:    env.events,
		Analytics: env.events,
	})
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := api.New(api.Options{})
	assert.Error(t, err)
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/transfer", map[string]string{
		"sender":    deployer.String(),
		"recipient": alice.String(),
		"amount":    "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[map[string]any](t, rec)
	assert.Equal(t, "990", res["net"])
	assert.Equal(t, "5", res["burned"])
	assert.Equal(t, "5", res["pooled"])
	assert.NotContains(t, res, "award")

	rec = env.do(t, http.MethodGet, "/api/accounts/"+alice.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decode[map[string]any](t, rec)
	assert.Equal(t, "990", acct["balance"])
	assert.Equal(t, false, acct["claimed"])
	assert.Equal(t, false, acct["admin"])
}

func TestTransfer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{
			name:   "malformed sender",
			body:   map[string]string{"sender": "not-base58!", "recipient": alice.String(), "amount": "1"},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			body:   map[string]string{"sender": deployer.String(), "recipient": alice.String(), "amount": "1", "memo": "x"},
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed amount",
			body:   map[string]string{"sender": deployer.String(), "recipient": alice.String(), "amount": "12abc"},
			status: http.StatusBadRequest,
		},
		{
			name:   "zero amount",
			body:   map[string]string{"sender": deployer.String(), "recipient": alice.String(), "amount": "0"},
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "insufficient balance",
			body:   map[string]string{"sender": bob.String(), "recipient": alice.String(), "amount": "1"},
			status: http.StatusConflict,
			kind:   "insufficiency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/transfer", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			res := decode[map[string]string](t, rec)
			assert.NotEmpty(t, res["error"])
			assert.Equal(t, tt.kind, res["kind"])
		})
	}
}

func TestBatchTransfer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/batch-transfer", map[string]any{
		"sender":     deployer.String(),
		"recipients": []string{alice.String(), bob.String()},
		"amounts":    []string{"500", "500"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, "1000", res["gross"])
	assert.Equal(t, "990", res["net"])
	assert.Equal(t, []any{"495", "495"}, res["shares"])
	assert.Equal(t, "0", res["dust"])

	rec = env.do(t, http.MethodPost, "/api/batch-transfer", map[string]any{
		"sender":     deployer.String(),
		"recipients": []string{alice.String()},
		"amounts":    []string{"1", "2"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveAndTransferFrom(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/approve", map[string]string{
		"owner": deployer.String(), "spender": bob.String(), "amount": "300",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "300", decode[map[string]any](t, rec)["allowance"])

	rec = env.do(t, http.MethodPost, "/api/transfer-from", map[string]string{
		"spender": bob.String(), "owner": deployer.String(), "recipient": alice.String(), "amount": "200",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "198", decode[map[string]any](t, rec)["net"])

	rec = env.do(t, http.MethodGet, "/api/accounts/"+deployer.String()+"/allowances/"+bob.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", decode[map[string]any](t, rec)["allowance"])

	rec = env.do(t, http.MethodPost, "/api/transfer-from", map[string]string{
		"spender": bob.String(), "owner": deployer.String(), "recipient": alice.String(), "amount": "101",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSwap_DebitsNativeBalance(t *testing.T) {
	env := newTestEnv(t)
	env.channel.Fund(alice, u(10))

	rec := env.do(t, http.MethodPost, "/api/swap", map[string]string{
		"sender": alice.String(), "reserve_in": "10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "100", decode[map[string]any](t, rec)["amount"])
	assert.True(t, env.channel.BalanceOf(alice).IsZero())
	assert.Equal(t, uint64(100), env.l.BalanceOf(context.Background(), alice).Uint64())

	// No native funds left: rejected before the ledger sees it.
	rec = env.do(t, http.MethodPost, "/api/swap", map[string]string{
		"sender": alice.String(), "reserve_in": "10",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, uint64(10), env.l.Stats(context.Background()).Reserve.Uint64())
}

func TestSwap_RejectedSwapRefunds(t *testing.T) {
	env := newTestEnv(t)

	// The system account cannot swap, and the payment comes back.
	env.channel.Fund(env.l.SystemAddress(), u(5))
	rec := env.do(t, http.MethodPost, "/api/swap", map[string]string{
		"sender": env.l.SystemAddress().String(), "reserve_in": "5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(5), env.channel.BalanceOf(env.l.SystemAddress()).Uint64())
}

func TestClaim_Disabled(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/claim", map[string]string{"account": alice.String()})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "policy", decode[map[string]string](t, rec)["kind"])
}

func TestDonateAndWithdrawReserve(t *testing.T) {
	env := newTestEnv(t)
	env.channel.Fund(bob, u(50))

	rec := env.do(t, http.MethodPost, "/api/donate", map[string]string{"account": bob.String(), "amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/withdraw/reserve", map[string]string{"account": bob.String(), "amount": "10"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/withdraw/reserve", map[string]string{"account": admin.String(), "amount": "60"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/withdraw/reserve", map[string]string{"account": admin.String(), "amount": "20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(20), env.channel.BalanceOf(admin).Uint64())

	env.channel.FailFor(admin, assert.AnError)
	rec = env.do(t, http.MethodPost, "/api/withdraw/reserve", map[string]string{"account": admin.String(), "amount": "20"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, uint64(30), env.l.Stats(context.Background()).Reserve.Uint64())
}

func TestReceive_ZeroRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/receive", map[string]string{"account": bob.String(), "amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, "1000000", stats["total_supply"])
	assert.Equal(t, "380000", stats["swap_pool_limit"])
	assert.Equal(t, "10", stats["current_rate"])

	rec = env.do(t, http.MethodGet, "/api/capacity", nil)
	assert.Equal(t, "380000", decode[map[string]any](t, rec)["amount"])

	rec = env.do(t, http.MethodGet, "/api/rate", nil)
	assert.Equal(t, "10", decode[map[string]any](t, rec)["amount"])

	rec = env.do(t, http.MethodGet, "/api/tax", nil)
	tax := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, tax["rate_numerator"])
	assert.EqualValues(t, 100, tax["rate_denominator"])

	rec = env.do(t, http.MethodGet, "/api/prize", nil)
	prize := decode[map[string]any](t, rec)
	assert.Equal(t, true, prize["armed"])
	assert.NotContains(t, prize, "last_prize_time")

	rec = env.do(t, http.MethodGet, "/api/withdrawable", nil)
	assert.Equal(t, "0", decode[map[string]any](t, rec)["amount"])

	rec = env.do(t, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, testLedgerID, snap.LedgerID)
	assert.Equal(t, env.l.LastSeq(context.Background()), snap.Seq)

	rec = env.do(t, http.MethodGet, "/api/accounts/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.l.Transfer(ctx, deployer, alice, u(1000))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/accounts/"+alice.String()+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]domain.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTransfer, events[0].Kind)
	assert.Equal(t, uint64(990), events[0].Amount.Uint64())

	rec = env.do(t, http.MethodGet, "/api/events?kind=BURN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	burns := decode[[]domain.Event](t, rec)
	require.Len(t, burns, 1)
	assert.Equal(t, uint64(5), burns[0].Amount.Uint64())

	last := env.l.LastSeq(ctx)
	rec = env.do(t, http.MethodGet, "/api/events?from=1&to=1000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Event](t, rec), int(last))

	rec = env.do(t, http.MethodGet, "/api/events?kind=NOPE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/events?from=5&to=2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/accounts/"+bob.String()+"/events?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/accounts/"+bob.String()+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestDailyVolume(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.l.Transfer(context.Background(), deployer, alice, u(1000))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/analytics/daily?start=2026-01-01&end=2026-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]map[string]any](t, rec)

	byKind := make(map[string]map[string]any)
	for _, row := range rows {
		assert.Equal(t, "2026-01-01", row["day"])
		byKind[row["kind"].(string)] = row
	}
	require.Contains(t, byKind, "BURN")
	assert.Equal(t, "5", byKind["BURN"]["amount"])

	rec = env.do(t, http.MethodGet, "/api/analytics/daily?start=2026-02-01&end=2026-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/analytics/daily?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionalStoresNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	srv, err := api.New(api.Options{Ledger: env.l, Book: env.book, Channel: env.channel})
	require.NoError(t, err)

	for _, path := range []string{"/api/events", "/api/analytics/daily", "/api/accounts/" + alice.String() + "/events"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, path)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "fixed-id")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.l.Transfer(context.Background(), deployer, alice, u(1000))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prize_ledger_ledger_operations_total")
}
