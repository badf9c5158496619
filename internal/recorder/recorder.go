// Package recorder persists committed ledger events asynchronously.
//
// The ledger publishes with its lock held, so Publish only queues. A flush loop
// writes the queues to each target in seq order and advances the target's
// checkpoint once a batch is durable.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/observability"
	"prize-ledger/internal/storage"
)

// Target is a named destination for events.
type Target struct {
	Name   string
	Writer storage.EventWriter
	// Lossy targets drop their oldest pending events beyond MaxPending.
	// They can be repaired later with Backfill.
	Lossy bool
}

// Options contains configuration for creating a Recorder.
type Options struct {
	LedgerID      string
	Targets       []Target
	Checkpoints   storage.CheckpointStore // optional
	FlushInterval time.Duration           // Default: 500ms
	MaxBatch      int                     // Default: 500
	MaxPending    int                     // Default: 100000, lossy targets only
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

type queue struct {
	target  Target
	pending []domain.Event
	// drops counts drop episodes. While gap is set the checkpoint is frozen so
	// Backfill can find the hole.
	drops int
	gap   bool
}

// Recorder is a batching ledger.EventSink.
type Recorder struct {
	ledgerID      string
	checkpoints   storage.CheckpointStore
	flushInterval time.Duration
	maxBatch      int
	maxPending    int
	clock         clockwork.Clock
	log           *slog.Logger

	mu     sync.Mutex
	queues []*queue

	flushMu sync.Mutex
}

// Compile-time interface check.
var _ ledger.EventSink = (*Recorder)(nil)

// New creates a Recorder.
func New(opts Options) (*Recorder, error) {
	if opts.LedgerID == "" {
		return nil, errors.New("ledger id is required")
	}
	if len(opts.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	r := &Recorder{
		ledgerID:      opts.LedgerID,
		checkpoints:   opts.Checkpoints,
		flushInterval: opts.FlushInterval,
		maxBatch:      opts.MaxBatch,
		maxPending:    opts.MaxPending,
		clock:         opts.Clock,
		log:           opts.Logger,
	}
	if r.flushInterval <= 0 {
		r.flushInterval = 500 * time.Millisecond
	}
	if r.maxBatch <= 0 {
		r.maxBatch = 500
	}
	if r.maxPending <= 0 {
		r.maxPending = 100_000
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	r.log = r.log.With("component", "recorder")

	seen := make(map[string]bool, len(opts.Targets))
	for _, t := range opts.Targets {
		if t.Name == "" || t.Writer == nil {
			return nil, errors.New("target needs a name and a writer")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true
		r.queues = append(r.queues, &queue{target: t})
	}
	return r, nil
}

// Publish queues events for every target. It never blocks on storage.
func (r *Recorder) Publish(events []domain.Event) {
	if len(events) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, q := range r.queues {
		q.pending = append(q.pending, events...)
		if q.target.Lossy && len(q.pending) > r.maxPending {
			drop := len(q.pending) - r.maxPending
			q.pending = append([]domain.Event(nil), q.pending[drop:]...)
			q.drops++
			q.gap = true
			observability.RecordRecorderDropped(q.target.Name, drop)
			r.log.Warn("dropped pending events", "target", q.target.Name, "count", drop)
		}
		observability.UpdateRecorderPending(q.target.Name, len(q.pending))
	}
}

// Pending returns the number of queued events for target.
func (r *Recorder) Pending(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		if q.target.Name == target {
			return len(q.pending)
		}
	}
	return 0
}

// Run flushes on every tick until ctx is cancelled, then flushes once more.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.flushInterval)
	defer ticker.Stop()

	r.log.Info("recorder started", "flush_interval", r.flushInterval, "targets", len(r.queues))

	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(context.WithoutCancel(ctx)); err != nil {
				r.log.Error("final flush failed", "error", err)
			}
			r.log.Info("recorder stopped")
			return nil
		case <-ticker.Chan():
			if err := r.Flush(ctx); err != nil {
				r.log.Warn("flush failed, will retry", "error", err)
			}
		}
	}
}

// Flush writes every queue until it is empty or a write fails. Failed batches
// stay queued for the next flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	var errs []error
	for _, q := range r.queues {
		if err := r.flushQueue(ctx, q); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q.target.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) flushQueue(ctx context.Context, q *queue) error {
	for {
		r.mu.Lock()
		n := min(len(q.pending), r.maxBatch)
		batch := append([]domain.Event(nil), q.pending[:n]...)
		r.mu.Unlock()

		if len(batch) == 0 {
			return nil
		}

		err := writeBatch(ctx, q.target.Writer, r.ledgerID, batch)
		observability.RecordRecorderFlush(q.target.Name, err)
		if err != nil {
			return err
		}

		r.mu.Lock()
		// Publish only appends and lossy drops only trim the front, so the
		// written batch is still a prefix unless it was dropped meanwhile.
		done := 0
		for done < len(q.pending) && q.pending[done].Seq <= batch[len(batch)-1].Seq {
			done++
		}
		q.pending = q.pending[done:]
		gap := q.gap
		observability.UpdateRecorderPending(q.target.Name, len(q.pending))
		r.mu.Unlock()

		if gap {
			continue
		}
		if err := r.checkpoint(ctx, q.target.Name, batch[len(batch)-1].Seq); err != nil {
			return err
		}
	}
}

func (r *Recorder) checkpoint(ctx context.Context, consumer string, seq uint64) error {
	if r.checkpoints == nil {
		return nil
	}
	err := r.checkpoints.SetCheckpoint(ctx, &storage.Checkpoint{
		LedgerID: r.ledgerID,
		Consumer: consumer,
		Seq:      seq,
	})
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// writeBatch inserts events. A duplicate batch is retried event by event so
// that already stored events are skipped and the rest still land.
func writeBatch(ctx context.Context, w storage.EventWriter, ledgerID string, events []domain.Event) error {
	err := w.InsertBulk(ctx, ledgerID, events)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return err
	}
	for i := range events {
		err := w.InsertBulk(ctx, ledgerID, events[i:i+1])
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
	}
	return nil
}

// Backfill copies events the target has not checkpointed from source, in
// batches, and returns how many events were copied. A completed backfill
// closes the gap left by dropped events.
func (r *Recorder) Backfill(ctx context.Context, source storage.EventStore, target string) (int, error) {
	var q *queue
	for _, candidate := range r.queues {
		if candidate.target.Name == target {
			q = candidate
		}
	}
	if q == nil {
		return 0, fmt.Errorf("unknown target %q", target)
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	drops := q.drops
	r.mu.Unlock()

	var from uint64
	if r.checkpoints != nil {
		cp, err := r.checkpoints.GetCheckpoint(ctx, r.ledgerID, target)
		switch {
		case err == nil:
			from = cp.Seq
		case !errors.Is(err, storage.ErrNotFound):
			return 0, fmt.Errorf("get checkpoint: %w", err)
		}
	}
	last, err := source.LastSeq(ctx, r.ledgerID)
	if err != nil {
		return 0, fmt.Errorf("source last seq: %w", err)
	}

	written := 0
	for from < last {
		to := min(from+uint64(r.maxBatch), last)
		events, err := source.GetBySeqRange(ctx, r.ledgerID, from+1, to)
		if err != nil {
			return written, fmt.Errorf("load events %d-%d: %w", from+1, to, err)
		}
		if err := writeBatch(ctx, q.target.Writer, r.ledgerID, events); err != nil {
			return written, fmt.Errorf("write events %d-%d: %w", from+1, to, err)
		}
		if err := r.checkpoint(ctx, target, to); err != nil {
			return written, err
		}
		written += len(events)
		from = to
	}

	r.mu.Lock()
	if q.drops == drops {
		q.gap = false
	}
	r.mu.Unlock()

	if written > 0 {
		r.log.Info("backfill complete", "target", target, "events", written, "last_seq", last)
	}
	return written, nil
}
