package interfaces

import (
	"context"

	"capital-trading-bot/internal/types"
)

type Decider interface {
	Decide(ctx context.Context, epic string, latest types.Bar, inds types.Indicators, contextData map[string]any) (types.Decision, error)
}

// ExitRule decides whether an open position should be closed now.
type ExitRule interface {
	ShouldClose(pos types.Position, inds types.Indicators) (bool, string)
}
