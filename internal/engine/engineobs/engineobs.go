package engineobs

import (
	"context"
	"time"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/trace"
	"capital-trading-bot/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Step(ctx context.Context, epic string) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()

	start := time.Now()

	result, err := oe.engine.Step(ctx, epic)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Trading step failed", err,
			"epic", epic,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Trading step completed",
		"epic", epic,
		"action", result.Decision.Action,
		"confidence", result.Decision.Confidence,
		"orders", len(result.Orders),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (oe *observableEngine) ManagePositions(ctx context.Context) ([]types.DealConfirmation, error) {
	ctx, span := trace.StartSpan(ctx, "engine.ManagePositions")
	defer span.End()

	closed, err := oe.engine.ManagePositions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Position management failed", err)
		return closed, err
	}
	if len(closed) > 0 {
		logger.InfoSkip(ctx, 1, "Positions closed", "count", len(closed))
	}
	return closed, nil
}

func (oe *observableEngine) Cycle(ctx context.Context) (*types.CycleReport, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Cycle")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting trading cycle")

	report, err := oe.engine.Cycle(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Trading cycle failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Trading cycle completed",
		"epics", len(report.Results),
		"closed", len(report.Closed),
		"errors", len(report.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}
