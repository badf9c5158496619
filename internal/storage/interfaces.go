package storage

import (
	"context"

	"prize-ledger/internal/domain"
)

// EventWriter is the append side shared by every event sink store.
type EventWriter interface {
	// InsertBulk appends events atomically. Fails entire batch on duplicate (ledger_id, seq).
	InsertBulk(ctx context.Context, ledgerID string, events []domain.Event) error
}

// EventStore provides access to ledger_events storage.
type EventStore interface {
	EventWriter

	// GetBySeqRange retrieves events with seq within [from, to] (inclusive), ordered by seq ASC.
	GetBySeqRange(ctx context.Context, ledgerID string, from, to uint64) ([]domain.Event, error)

	// GetByAccount retrieves events where account is From or To, ordered by seq ASC.
	// limit <= 0 means no limit; otherwise the most recent limit events are returned.
	GetByAccount(ctx context.Context, ledgerID string, account domain.Address, limit int) ([]domain.Event, error)

	// GetByKind retrieves all events of a kind, ordered by seq ASC.
	GetByKind(ctx context.Context, ledgerID string, kind domain.EventKind) ([]domain.Event, error)

	// LastSeq returns the highest stored seq, 0 if the ledger has no events.
	LastSeq(ctx context.Context, ledgerID string) (uint64, error)
}

// SnapshotStore provides access to ledger_snapshots storage.
type SnapshotStore interface {
	// Save adds a snapshot. Returns ErrDuplicateKey if (ledger_id, seq) exists.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Latest retrieves the snapshot with the highest seq. Returns ErrNotFound if none.
	Latest(ctx context.Context, ledgerID string) (*domain.Snapshot, error)
}

// AnalyticsStore provides access to the ledger_events analytics table.
type AnalyticsStore interface {
	EventWriter

	// DailyVolume aggregates events per UTC day and kind within [start, end] unix ms (inclusive),
	// ordered by day ASC, kind ASC.
	DailyVolume(ctx context.Context, ledgerID string, start, end int64) ([]domain.DailyVolume, error)
}
