package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// Snapshots are stored in their JSON form so callers never share state with the store.
type SnapshotStore struct {
	mu     sync.RWMutex
	latest map[string]uint64            // ledger id -> highest seq
	data   map[string]map[uint64][]byte // ledger id -> seq -> json
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		latest: make(map[string]uint64),
		data:   make(map[string]map[uint64][]byte),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Save adds a snapshot. Returns ErrDuplicateKey if (ledger_id, seq) exists.
func (s *SnapshotStore) Save(_ context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.LedgerID == "" {
		return storage.ErrInvalidInput
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bySeq, ok := s.data[snap.LedgerID]
	if !ok {
		bySeq = make(map[uint64][]byte)
		s.data[snap.LedgerID] = bySeq
	}
	if _, exists := bySeq[snap.Seq]; exists {
		return storage.ErrDuplicateKey
	}
	bySeq[snap.Seq] = raw
	if snap.Seq >= s.latest[snap.LedgerID] {
		s.latest[snap.LedgerID] = snap.Seq
	}
	return nil
}

// Latest retrieves the snapshot with the highest seq.
func (s *SnapshotStore) Latest(_ context.Context, ledgerID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	bySeq, ok := s.data[ledgerID]
	var raw []byte
	if ok {
		raw = bySeq[s.latest[ledgerID]]
	}
	s.mu.RUnlock()

	if raw == nil {
		return nil, storage.ErrNotFound
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
