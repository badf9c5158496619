package clickhouse

import (
	"context"
	"fmt"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// AnalyticsStore implements storage.AnalyticsStore using ClickHouse.
type AnalyticsStore struct {
	conn *Conn
}

// NewAnalyticsStore creates a new AnalyticsStore.
func NewAnalyticsStore(conn *Conn) *AnalyticsStore {
	return &AnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AnalyticsStore = (*AnalyticsStore)(nil)

// InsertBulk appends events. Fails entire batch on duplicate (ledger_id, seq).
func (s *AnalyticsStore) InsertBulk(ctx context.Context, ledgerID string, events []domain.Event) error {
	if ledgerID == "" {
		return storage.ErrInvalidInput
	}
	if len(events) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seqs := make([]uint64, 0, len(events))
	seen := make(map[uint64]struct{}, len(events))
	for i := range events {
		e := &events[i]
		if e.Seq == 0 || !e.Kind.IsValid() {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.Seq] = struct{}{}
		seqs = append(seqs, e.Seq)
	}

	// Check for duplicates against existing DB rows
	var existing uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count()
		FROM ledger_events
		WHERE ledger_id = ? AND seq IN ?
	`, ledgerID, seqs).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check exists: %w", mapError(err))
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			ledger_id, seq, event_id, kind, timestamp_ms, from_addr, to_addr, amount, reserve
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", mapError(err))
	}

	for i := range events {
		e := &events[i]
		err = batch.Append(
			ledgerID, e.Seq, e.ID, string(e.Kind), e.Timestamp,
			e.From.String(), e.To.String(),
			e.LedgerAmount().ToBig(), e.ReserveAmount().ToBig(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// DailyVolume aggregates events per UTC day and kind within [start, end] (inclusive).
func (s *AnalyticsStore) DailyVolume(ctx context.Context, ledgerID string, start, end int64) ([]domain.DailyVolume, error) {
	query := `
		SELECT
			toInt64(intDiv(timestamp_ms, ?) * ?) AS day_start_ms,
			toString(kind) AS kind,
			count() AS events,
			toString(sum(amount)) AS amount,
			toString(sum(reserve)) AS reserve
		FROM ledger_events FINAL
		WHERE ledger_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		GROUP BY day_start_ms, kind
		ORDER BY day_start_ms ASC, kind ASC
	`

	rows, err := s.conn.Query(ctx, query, domain.DayMs, domain.DayMs, ledgerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query daily volume: %w", mapError(err))
	}
	defer rows.Close()

	var result []domain.DailyVolume
	for rows.Next() {
		var (
			v               domain.DailyVolume
			kind            string
			amount, reserve string
		)
		if err := rows.Scan(&v.DayStartMs, &kind, &v.Events, &amount, &reserve); err != nil {
			return nil, fmt.Errorf("scan daily volume: %w", err)
		}
		v.Kind = domain.EventKind(kind)
		if v.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, err
		}
		if v.Reserve, err = domain.ParseAmount(reserve); err != nil {
			return nil, err
		}
		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily volume: %w", err)
	}

	return result, nil
}
