package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
	"prize-ledger/internal/storage/memory"
)

const testLedger = "recorder-ledger"

func makeEvents(from, to uint64) []domain.Event {
	var out []domain.Event
	for seq := from; seq <= to; seq++ {
		out = append(out, domain.Event{
			Seq:     seq,
			Kind:    domain.EventDonation,
			Amount:  new(uint256.Int),
			Reserve: uint256.NewInt(seq),
		})
	}
	return out
}

// flakyWriter fails the first n InsertBulk calls.
type flakyWriter struct {
	mu    sync.Mutex
	fails int
	calls int
	inner storage.EventWriter
}

func (w *flakyWriter) InsertBulk(ctx context.Context, ledgerID string, events []domain.Event) error {
	w.mu.Lock()
	w.calls++
	if w.fails > 0 {
		w.fails--
		w.mu.Unlock()
		return errors.New("connection reset")
	}
	w.mu.Unlock()
	return w.inner.InsertBulk(ctx, ledgerID, events)
}

func lastSeq(t *testing.T, s *memory.EventStore) uint64 {
	t.Helper()
	seq, err := s.LastSeq(context.Background(), testLedger)
	require.NoError(t, err)
	return seq
}

func TestRecorder_FlushWritesAllTargets(t *testing.T) {
	primary := memory.NewEventStore()
	analytics := memory.NewEventStore()
	checkpoints := memory.NewCheckpointStore()
	ctx := context.Background()

	r, err := New(Options{
		LedgerID: testLedger,
		Targets: []Target{
			{Name: "events", Writer: primary},
			{Name: "analytics", Writer: analytics, Lossy: true},
		},
		Checkpoints: checkpoints,
		MaxBatch:    3,
	})
	require.NoError(t, err)

	r.Publish(makeEvents(1, 4))
	r.Publish(makeEvents(5, 7))
	assert.Equal(t, 7, r.Pending("events"))

	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, uint64(7), lastSeq(t, primary))
	assert.Equal(t, uint64(7), lastSeq(t, analytics))
	assert.Equal(t, 0, r.Pending("events"))
	assert.Equal(t, 0, r.Pending("analytics"))

	cp, err := checkpoints.GetCheckpoint(ctx, testLedger, "analytics")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cp.Seq)
}

func TestRecorder_FailedWriteStaysQueued(t *testing.T) {
	store := memory.NewEventStore()
	writer := &flakyWriter{fails: 1, inner: store}
	ctx := context.Background()

	r, err := New(Options{LedgerID: testLedger, Targets: []Target{{Name: "events", Writer: writer}}})
	require.NoError(t, err)

	r.Publish(makeEvents(1, 3))
	require.Error(t, r.Flush(ctx))
	assert.Equal(t, 3, r.Pending("events"))
	assert.Equal(t, uint64(0), lastSeq(t, store))

	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, 0, r.Pending("events"))
	assert.Equal(t, uint64(3), lastSeq(t, store))
}

func TestRecorder_DuplicatesAreSkipped(t *testing.T) {
	store := memory.NewEventStore()
	ctx := context.Background()
	require.NoError(t, store.InsertBulk(ctx, testLedger, makeEvents(2, 2)))

	r, err := New(Options{LedgerID: testLedger, Targets: []Target{{Name: "events", Writer: store}}})
	require.NoError(t, err)

	r.Publish(makeEvents(1, 3))
	require.NoError(t, r.Flush(ctx))

	events, err := store.GetBySeqRange(ctx, testLedger, 1, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRecorder_LossyTargetDropsOldest(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewEventStore()
	analytics := memory.NewEventStore()
	checkpoints := memory.NewCheckpointStore()

	r, err := New(Options{
		LedgerID: testLedger,
		Targets: []Target{
			{Name: "events", Writer: primary},
			{Name: "analytics", Writer: analytics, Lossy: true},
		},
		Checkpoints: checkpoints,
		MaxPending:  5,
	})
	require.NoError(t, err)

	r.Publish(makeEvents(1, 8))
	assert.Equal(t, 8, r.Pending("events"), "durable targets never drop")
	assert.Equal(t, 5, r.Pending("analytics"))

	require.NoError(t, r.Flush(ctx))
	got, err := analytics.GetBySeqRange(ctx, testLedger, 1, 8)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, uint64(4), got[0].Seq)

	_, err = checkpoints.GetCheckpoint(ctx, testLedger, "analytics")
	require.ErrorIs(t, err, storage.ErrNotFound, "checkpoint must not pass the hole")

	// backfill restores what was dropped
	n, err := r.Backfill(ctx, primary, "analytics")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	got, err = analytics.GetBySeqRange(ctx, testLedger, 1, 8)
	require.NoError(t, err)
	assert.Len(t, got, 8)

	r.Publish(makeEvents(9, 9))
	require.NoError(t, r.Flush(ctx))
	cp, err := checkpoints.GetCheckpoint(ctx, testLedger, "analytics")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cp.Seq)
}

func TestRecorder_Backfill(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewEventStore()
	analytics := memory.NewEventStore()
	checkpoints := memory.NewCheckpointStore()
	require.NoError(t, primary.InsertBulk(ctx, testLedger, makeEvents(1, 10)))
	require.NoError(t, analytics.InsertBulk(ctx, testLedger, makeEvents(1, 4)))
	require.NoError(t, checkpoints.SetCheckpoint(ctx, &storage.Checkpoint{
		LedgerID: testLedger, Consumer: "analytics", Seq: 4,
	}))

	r, err := New(Options{
		LedgerID:    testLedger,
		Targets:     []Target{{Name: "analytics", Writer: analytics, Lossy: true}},
		Checkpoints: checkpoints,
		MaxBatch:    4,
	})
	require.NoError(t, err)

	n, err := r.Backfill(ctx, primary, "analytics")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, uint64(10), lastSeq(t, analytics))

	cp, err := checkpoints.GetCheckpoint(ctx, testLedger, "analytics")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cp.Seq)

	_, err = r.Backfill(ctx, primary, "unknown")
	require.Error(t, err)
}

func TestRecorder_BackfillWithoutCheckpoint(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewEventStore()
	analytics := memory.NewEventStore()
	require.NoError(t, primary.InsertBulk(ctx, testLedger, makeEvents(1, 3)))
	require.NoError(t, analytics.InsertBulk(ctx, testLedger, makeEvents(1, 1)))

	r, err := New(Options{
		LedgerID:    testLedger,
		Targets:     []Target{{Name: "analytics", Writer: analytics}},
		Checkpoints: memory.NewCheckpointStore(),
	})
	require.NoError(t, err)

	n, err := r.Backfill(ctx, primary, "analytics")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(3), lastSeq(t, analytics))
}

func TestRecorder_RunFlushesOnTickAndShutdown(t *testing.T) {
	store := memory.NewEventStore()
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	r, err := New(Options{
		LedgerID:      testLedger,
		Targets:       []Target{{Name: "events", Writer: store}},
		FlushInterval: time.Second,
		Clock:         clock,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	r.Publish(makeEvents(1, 2))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return lastSeq(t, store) == 2 }, time.Second, 5*time.Millisecond)

	r.Publish(makeEvents(3, 3))
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(3), lastSeq(t, store))
}

func TestNew_Validation(t *testing.T) {
	store := memory.NewEventStore()

	_, err := New(Options{Targets: []Target{{Name: "events", Writer: store}}})
	require.Error(t, err)

	_, err = New(Options{LedgerID: testLedger})
	require.Error(t, err)

	_, err = New(Options{LedgerID: testLedger, Targets: []Target{
		{Name: "events", Writer: store},
		{Name: "events", Writer: store},
	}})
	require.Error(t, err)
}
