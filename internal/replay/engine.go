package replay

import (
	"context"

	"prize-ledger/internal/domain"
)

// ReplayEngine processes events in deterministic order.
type ReplayEngine interface {
	// OnEvent is called for each event in order.
	// Events are guaranteed to be ordered by seq with no gaps.
	OnEvent(ctx context.Context, event *domain.Event) error
}

// EngineFunc adapts a function to ReplayEngine.
type EngineFunc func(ctx context.Context, event *domain.Event) error

// OnEvent calls f.
func (f EngineFunc) OnEvent(ctx context.Context, event *domain.Event) error {
	return f(ctx, event)
}
