package replay

import (
	"context"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// Runner loads events from storage and replays them in seq order.
type Runner struct {
	eventStore storage.EventStore
}

// NewRunner creates a new replay runner.
func NewRunner(eventStore storage.EventStore) *Runner {
	return &Runner{eventStore: eventStore}
}

// Run loads events of a ledger with seq within [from, to] and replays them through the engine.
// A gap between loaded events fails the run before any event is replayed.
func (r *Runner) Run(ctx context.Context, ledgerID string, from, to uint64, engine ReplayEngine) error {
	if from == 0 {
		from = 1
	}

	events, err := r.eventStore.GetBySeqRange(ctx, ledgerID, from, to)
	if err != nil {
		return err
	}

	SortEvents(events)
	if err := CheckSequence(from-1, events); err != nil {
		return err
	}

	return replay(ctx, events, engine)
}

// RunAll replays every stored event of a ledger.
func (r *Runner) RunAll(ctx context.Context, ledgerID string, engine ReplayEngine) error {
	last, err := r.eventStore.LastSeq(ctx, ledgerID)
	if err != nil {
		return err
	}
	if last == 0 {
		return nil
	}
	return r.Run(ctx, ledgerID, 1, last, engine)
}

func replay(ctx context.Context, events []domain.Event, engine ReplayEngine) error {
	for i := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := engine.OnEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}
