package recorder

import "context"

// NoopRecorder is a no-op implementation used when no history file is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ context.Context, _ *RunEvent) error { return nil }
func (n *NoopRecorder) RecentRuns(_ context.Context, _ int) ([]RunEvent, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
