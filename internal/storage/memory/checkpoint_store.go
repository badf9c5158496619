package memory

import (
	"context"
	"sync"

	"prize-ledger/internal/storage"
)

type checkpointKey struct {
	LedgerID string
	Consumer string
}

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[checkpointKey]uint64
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[checkpointKey]uint64),
	}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the checkpoint of consumer.
func (s *CheckpointStore) GetCheckpoint(_ context.Context, ledgerID, consumer string) (*storage.Checkpoint, error) {
	if ledgerID == "" || consumer == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok := s.data[checkpointKey{LedgerID: ledgerID, Consumer: consumer}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Checkpoint{LedgerID: ledgerID, Consumer: consumer, Seq: seq}, nil
}

// SetCheckpoint saves the checkpoint, ignoring regressions.
func (s *CheckpointStore) SetCheckpoint(_ context.Context, cp *storage.Checkpoint) error {
	if cp == nil || cp.LedgerID == "" || cp.Consumer == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey{LedgerID: cp.LedgerID, Consumer: cp.Consumer}
	if cur, ok := s.data[key]; ok && cur > cp.Seq {
		return nil
	}
	s.data[key] = cp.Seq
	return nil
}
