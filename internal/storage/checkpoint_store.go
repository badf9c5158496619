package storage

import "context"

// Checkpoint is the last event seq a consumer has durably processed.
type Checkpoint struct {
	LedgerID string
	Consumer string // e.g. "analytics"
	Seq      uint64
}

// CheckpointStore persists consumer progress through the event log.
// This enables a consumer to resume after restarts without re-reading or skipping events.
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint of consumer.
	// Returns ErrNotFound if no progress has been saved yet.
	GetCheckpoint(ctx context.Context, ledgerID, consumer string) (*Checkpoint, error)

	// SetCheckpoint saves the checkpoint. A lower seq than the stored one is ignored.
	SetCheckpoint(ctx context.Context, cp *Checkpoint) error
}
