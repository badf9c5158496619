package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore and
// storage.AnalyticsStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string][]domain.Event // ledger id -> events ordered by seq
	keys map[string]map[uint64]bool
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string][]domain.Event),
		keys: make(map[string]map[uint64]bool),
	}
}

// Compile-time interface checks.
var (
	_ storage.EventStore     = (*EventStore)(nil)
	_ storage.AnalyticsStore = (*EventStore)(nil)
)

// InsertBulk appends events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, ledgerID string, events []domain.Event) error {
	if ledgerID == "" {
		return storage.ErrInvalidInput
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.keys[ledgerID]
	batchKeys := make(map[uint64]bool, len(events))
	for _, e := range events {
		if e.Seq == 0 || !e.Kind.IsValid() {
			return storage.ErrInvalidInput
		}
		if existing[e.Seq] || batchKeys[e.Seq] {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.Seq] = true
	}

	if existing == nil {
		existing = make(map[uint64]bool, len(events))
		s.keys[ledgerID] = existing
	}
	list := s.data[ledgerID]
	for _, e := range events {
		list = append(list, copyEvent(e))
		existing[e.Seq] = true
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	s.data[ledgerID] = list
	return nil
}

// GetBySeqRange retrieves events with seq within [from, to] (inclusive).
func (s *EventStore) GetBySeqRange(_ context.Context, ledgerID string, from, to uint64) ([]domain.Event, error) {
	return s.filter(ledgerID, 0, func(e *domain.Event) bool {
		return e.Seq >= from && e.Seq <= to
	}), nil
}

// GetByAccount retrieves events involving account, the most recent limit if limit > 0.
func (s *EventStore) GetByAccount(_ context.Context, ledgerID string, account domain.Address, limit int) ([]domain.Event, error) {
	return s.filter(ledgerID, limit, func(e *domain.Event) bool {
		return e.Involves(account)
	}), nil
}

// GetByKind retrieves all events of a kind.
func (s *EventStore) GetByKind(_ context.Context, ledgerID string, kind domain.EventKind) ([]domain.Event, error) {
	return s.filter(ledgerID, 0, func(e *domain.Event) bool {
		return e.Kind == kind
	}), nil
}

// LastSeq returns the highest stored seq.
func (s *EventStore) LastSeq(_ context.Context, ledgerID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[ledgerID]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].Seq, nil
}

// DailyVolume aggregates events per UTC day and kind within [start, end].
func (s *EventStore) DailyVolume(_ context.Context, ledgerID string, start, end int64) ([]domain.DailyVolume, error) {
	type key struct {
		day  int64
		kind domain.EventKind
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[key]*domain.DailyVolume)
	for i := range s.data[ledgerID] {
		e := &s.data[ledgerID][i]
		if e.Timestamp < start || e.Timestamp > end {
			continue
		}
		k := key{day: domain.DayStart(e.Timestamp), kind: e.Kind}
		v, ok := buckets[k]
		if !ok {
			v = &domain.DailyVolume{
				DayStartMs: k.day,
				Kind:       k.kind,
				Amount:     new(uint256.Int),
				Reserve:    new(uint256.Int),
			}
			buckets[k] = v
		}
		v.Events++
		v.Amount.Add(v.Amount, e.LedgerAmount())
		v.Reserve.Add(v.Reserve, e.ReserveAmount())
	}

	result := make([]domain.DailyVolume, 0, len(buckets))
	for _, v := range buckets {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DayStartMs != result[j].DayStartMs {
			return result[i].DayStartMs < result[j].DayStartMs
		}
		return result[i].Kind < result[j].Kind
	})
	return result, nil
}

// filter returns copies of matching events in seq order, keeping the last
// limit matches when limit > 0.
func (s *EventStore) filter(ledgerID string, limit int, match func(*domain.Event) bool) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Event
	list := s.data[ledgerID]
	for i := range list {
		if match(&list[i]) {
			result = append(result, copyEvent(list[i]))
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func copyEvent(e domain.Event) domain.Event {
	if e.Amount != nil {
		e.Amount = e.Amount.Clone()
	}
	if e.Reserve != nil {
		e.Reserve = e.Reserve.Clone()
	}
	return e
}
