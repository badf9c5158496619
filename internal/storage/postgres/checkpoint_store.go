package postgres

import (
	"context"

	"prize-ledger/internal/storage"
)

// CheckpointStore is a PostgreSQL implementation of storage.CheckpointStore.
// One row per (ledger_id, consumer) in consumer_checkpoints.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the checkpoint of consumer.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, ledgerID, consumer string) (*storage.Checkpoint, error) {
	if ledgerID == "" || consumer == "" {
		return nil, storage.ErrInvalidInput
	}

	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT seq
		FROM consumer_checkpoints
		WHERE ledger_id = $1 AND consumer = $2
	`, ledgerID, consumer).Scan(&seq)
	if err != nil {
		return nil, mapError("get checkpoint", err)
	}

	return &storage.Checkpoint{LedgerID: ledgerID, Consumer: consumer, Seq: uint64(seq)}, nil
}

// SetCheckpoint saves the checkpoint.
// Uses upsert to handle initial insert and subsequent updates; a lower seq never
// overwrites a higher one.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	if cp == nil || cp.LedgerID == "" || cp.Consumer == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO consumer_checkpoints (ledger_id, consumer, seq, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (ledger_id, consumer) DO UPDATE
		SET seq = GREATEST(consumer_checkpoints.seq, EXCLUDED.seq),
		    updated_at = NOW()
	`, cp.LedgerID, cp.Consumer, clampSeq(cp.Seq))
	if err != nil {
		return mapError("set checkpoint", err)
	}
	return nil
}
