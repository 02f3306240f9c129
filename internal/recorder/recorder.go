package recorder

import (
	"context"
	"time"
)

// RunEvent describes one finished job run.
type RunEvent struct {
	RunID        string
	Job          string // "daily" or "recompute"
	TradeDate    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Observations int
	Indicators   int
	Leaders      int
	Recomputed   int
	Failed       int
	Err          error
}

// Recorder persists job history for later analysis.
type Recorder interface {
	RecordRun(ctx context.Context, evt *RunEvent) error
	RecentRuns(ctx context.Context, limit int) ([]RunEvent, error)
	Close() error
}
