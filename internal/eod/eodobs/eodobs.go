package eodobs

import (
	"context"
	"time"

	"capital-trading-bot/internal/interfaces"
	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{summarizer: summarizer}
}

func (o *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()
	return o.logResult(ctx, t.UTC().Format("2006-01-02"), func() (string, error) {
		return o.summarizer.SummarizeDay(t)
	})
}

func (o *observableEodSummarizer) SummarizePreviousDay() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizePreviousDay")
	defer span.End()
	return o.logResult(ctx, "previous", o.summarizer.SummarizePreviousDay)
}

func (o *observableEodSummarizer) logResult(ctx context.Context, day string, fn func() (string, error)) (string, error) {
	csvPath, err := fn()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary generation failed", err, "date", day)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No trades found for EOD summary", "date", day)
		return "", nil
	}
	logger.InfoSkip(ctx, 2, "EOD summary generated", "date", day, "csv_path", csvPath)
	return csvPath, nil
}

func (o *observableEodSummarizer) ShouldRunNow() (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := o.summarizer.ShouldRunNow()
	logger.DebugSkip(ctx, 1, "EOD check completed", "should_run", shouldRun, "csv_path", csvPath)
	return shouldRun, csvPath
}
