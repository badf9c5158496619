package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO ledger_events (
		ledger_id, seq, event_id, kind, timestamp_ms, from_addr, to_addr, amount, reserve
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric)
`

const selectEventColumns = `
	SELECT seq, event_id, kind, timestamp_ms, from_addr, to_addr, amount::text, reserve::text
	FROM ledger_events
`

// InsertBulk appends events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(ctx context.Context, ledgerID string, events []domain.Event) error {
	if ledgerID == "" {
		return storage.ErrInvalidInput
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range events {
		e := &events[i]
		if e.Seq == 0 || !e.Kind.IsValid() {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, insertEventQuery,
			ledgerID,
			int64(e.Seq),
			e.ID,
			string(e.Kind),
			e.Timestamp,
			e.From.String(),
			e.To.String(),
			domain.FormatAmount(e.Amount),
			domain.FormatAmount(e.Reserve),
		)
		if err != nil {
			return mapError(fmt.Sprintf("insert event %d", e.Seq), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySeqRange retrieves events with seq within [from, to] (inclusive), ordered by seq ASC.
func (s *EventStore) GetBySeqRange(ctx context.Context, ledgerID string, from, to uint64) ([]domain.Event, error) {
	query := selectEventColumns + `
		WHERE ledger_id = $1 AND seq >= $2 AND seq <= $3
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, ledgerID, clampSeq(from), clampSeq(to))
	if err != nil {
		return nil, mapError("get events by seq range", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByAccount retrieves events involving account, the most recent limit if limit > 0.
func (s *EventStore) GetByAccount(ctx context.Context, ledgerID string, account domain.Address, limit int) ([]domain.Event, error) {
	query := `
		SELECT * FROM (` + selectEventColumns + `
			WHERE ledger_id = $1 AND (from_addr = $2 OR to_addr = $2)
			ORDER BY seq DESC
			LIMIT $3
		) recent
		ORDER BY seq ASC
	`

	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, ledgerID, account.String(), lim)
	if err != nil {
		return nil, mapError("get events by account", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByKind retrieves all events of a kind, ordered by seq ASC.
func (s *EventStore) GetByKind(ctx context.Context, ledgerID string, kind domain.EventKind) ([]domain.Event, error) {
	query := selectEventColumns + `
		WHERE ledger_id = $1 AND kind = $2
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, ledgerID, string(kind))
	if err != nil {
		return nil, mapError("get events by kind", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSeq returns the highest stored seq, 0 if none.
func (s *EventStore) LastSeq(ctx context.Context, ledgerID string) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM ledger_events WHERE ledger_id = $1
	`, ledgerID).Scan(&seq)
	if err != nil {
		return 0, mapError("get last seq", err)
	}
	return uint64(seq), nil
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event

	for rows.Next() {
		var (
			e               domain.Event
			seq             int64
			kind, from, to  string
			amount, reserve string
		)

		if err := rows.Scan(&seq, &e.ID, &kind, &e.Timestamp, &from, &to, &amount, &reserve); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Seq = uint64(seq)
		e.Kind = domain.EventKind(kind)
		var err error
		if e.From, err = domain.ParseAddress(from); err != nil {
			return nil, fmt.Errorf("scan event %d from: %w", seq, err)
		}
		if e.To, err = domain.ParseAddress(to); err != nil {
			return nil, fmt.Errorf("scan event %d to: %w", seq, err)
		}
		if e.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, err
		}
		if e.Reserve, err = domain.ParseAmount(reserve); err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// clampSeq maps a uint64 seq onto the BIGINT column range.
func clampSeq(seq uint64) int64 {
	if seq > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(seq)
}
