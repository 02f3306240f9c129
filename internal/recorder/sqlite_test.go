package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRecorderRoundTrip(t *testing.T) {
	r, err := NewSQLiteRecorder(":memory:", nil)
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	start := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	require.NoError(t, r.RecordRun(ctx, &RunEvent{
		RunID: "r1", Job: "daily", TradeDate: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
		StartedAt: start, FinishedAt: start.Add(time.Minute), Observations: 2600, Indicators: 60, Leaders: 120,
	}))
	require.NoError(t, r.RecordRun(ctx, &RunEvent{
		RunID: "r2", Job: "recompute", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(2 * time.Hour),
		Recomputed: 118, Failed: 2, Err: errors.New("store unavailable"),
	}))

	runs, err := r.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "r2", runs[0].RunID)
	assert.True(t, runs[0].TradeDate.IsZero())
	assert.EqualError(t, runs[0].Err, "store unavailable")
	assert.Equal(t, 118, runs[0].Recomputed)

	assert.Equal(t, "daily", runs[1].Job)
	assert.Equal(t, 2600, runs[1].Observations)
	assert.True(t, runs[1].StartedAt.Equal(start))
	assert.NoError(t, runs[1].Err)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	require.NoError(t, r.RecordRun(context.Background(), &RunEvent{}))
	runs, err := r.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
