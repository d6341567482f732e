package store

import (
	"context"

	"negotiator/internal/forecast"
	"negotiator/internal/store/model"
)

// HistoryStore persists negotiation outcomes; it doubles as a forecast table source.
type HistoryStore interface {
	forecast.Source
	// Append stores records under the current run.
	Append(ctx context.Context, records []forecast.Record) error
	Count(ctx context.Context, runID string) (int64, error)
	Close() error
}

// RunRepository tracks data-collection runs.
type RunRepository interface {
	StartRun(ctx context.Context, source string, params any) (string, error)
	FinishRun(ctx context.Context, runID string, records int, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]model.RunModel, error)
}
