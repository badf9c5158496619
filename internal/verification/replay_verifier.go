package verification

import (
	"context"
	"errors"
	"fmt"

	"prize-ledger/internal/replay"
	"prize-ledger/internal/storage"
)

// ErrSnapshotNotFound is returned when a ledger has no stored snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ReplayVerifier checks stored snapshots against the stored event log.
type ReplayVerifier struct {
	snapshots storage.SnapshotStore
	runner    *replay.Runner
	limits    Limits
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	EventStore    storage.EventStore
	SnapshotStore storage.SnapshotStore
	Limits        Limits
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		snapshots: opts.SnapshotStore,
		runner:    replay.NewRunner(opts.EventStore),
		limits:    opts.Limits,
	}
}

// VerifyLatest replays the events of a ledger up to its latest snapshot and
// compares the result. A divergence is reported in the result, not as an error.
func (v *ReplayVerifier) VerifyLatest(ctx context.Context, ledgerID string) (*VerificationResult, error) {
	snap, err := v.snapshots.Latest(ctx, ledgerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, ledgerID)
		}
		return nil, err
	}

	fold := replay.NewBalanceFold()
	if snap.Seq > 0 {
		if err := v.runner.Run(ctx, ledgerID, 1, snap.Seq, fold); err != nil {
			return nil, fmt.Errorf("replay to seq %d: %w", snap.Seq, err)
		}
	}

	divergences := CompareReplay(snap, fold)
	invariant := VerifySnapshot(snap, v.limits)
	return &VerificationResult{
		LedgerID:    ledgerID,
		Seq:         snap.Seq,
		Events:      fold.Events,
		Match:       len(divergences) == 0 && invariant == nil,
		Divergences: divergences,
		Invariant:   invariant,
	}, nil
}
