package replay

import "errors"

var (
	// ErrInvalidOrdering is returned when events are not in strictly increasing seq order.
	ErrInvalidOrdering = errors.New("events are not in seq order")

	// ErrSequenceGap is returned when a seq is missing between two replayed events.
	ErrSequenceGap = errors.New("gap in event sequence")

	// ErrNegativeBalance is returned when a replayed debit exceeds the replayed balance.
	ErrNegativeBalance = errors.New("replayed balance would go negative")
)
