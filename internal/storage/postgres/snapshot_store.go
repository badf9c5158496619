package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
// The snapshot body is stored as JSONB.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Save adds a snapshot. Returns ErrDuplicateKey if (ledger_id, seq) exists.
func (s *SnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.LedgerID == "" {
		return storage.ErrInvalidInput
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledger_snapshots (ledger_id, seq, taken_at_ms, body)
		VALUES ($1, $2, $3, $4)
	`, snap.LedgerID, clampSeq(snap.Seq), snap.TakenAt, body)
	if err != nil {
		return mapError("insert snapshot", err)
	}
	return nil
}

// Latest retrieves the snapshot with the highest seq. Returns ErrNotFound if none.
func (s *SnapshotStore) Latest(ctx context.Context, ledgerID string) (*domain.Snapshot, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT body
		FROM ledger_snapshots
		WHERE ledger_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, ledgerID).Scan(&body)
	if err != nil {
		return nil, mapError("get latest snapshot", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
