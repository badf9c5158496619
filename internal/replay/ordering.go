package replay

import (
	"fmt"
	"sort"

	"prize-ledger/internal/domain"
)

// SortEvents orders events by seq ASC.
func SortEvents(events []domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
}

// CheckSequence verifies that events are strictly increasing and gap-free,
// starting right after prev (0 = from the beginning).
func CheckSequence(prev uint64, events []domain.Event) error {
	for i := range events {
		seq := events[i].Seq
		switch {
		case seq <= prev:
			return fmt.Errorf("%w: seq %d after %d", ErrInvalidOrdering, seq, prev)
		case seq != prev+1:
			return fmt.Errorf("%w: expected seq %d, got %d", ErrSequenceGap, prev+1, seq)
		}
		prev = seq
	}
	return nil
}
