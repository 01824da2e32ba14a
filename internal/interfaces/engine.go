package interfaces

import (
	"context"

	"capital-trading-bot/internal/types"
)

type Engine interface {
	Step(ctx context.Context, epic string) (*types.StepResult, error)
	ManagePositions(ctx context.Context) ([]types.DealConfirmation, error)
	Cycle(ctx context.Context) (*types.CycleReport, error)
}
