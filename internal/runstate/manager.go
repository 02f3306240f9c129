package runstate

import (
	"log/slog"
	"sync"
	"time"

	"SectorSentinel/internal/model"
)

// Manager guards the run state and saves it after every change.
type Manager struct {
	mu       sync.Mutex
	state    *State
	filePath string
	logger   *slog.Logger
}

// NewManager creates a Manager, loading state from disk.
func NewManager(filePath string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	state, err := LoadState(filePath)
	if err != nil {
		return nil, err
	}
	return &Manager{state: state, filePath: filePath, logger: logger}, nil
}

// Get returns a copy of the current state.
func (m *Manager) Get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state
}

// MarkCollected records a collected trading date.
func (m *Manager) MarkCollected(date time.Time) {
	m.update(func(s *State) { s.LastCollectedDate = later(s.LastCollectedDate, date) })
}

// MarkIndicators records the date of the newest sector indicators.
func (m *Manager) MarkIndicators(date time.Time) {
	m.update(func(s *State) { s.LastIndicatorDate = later(s.LastIndicatorDate, date) })
}

// MarkLeaders records the date of the newest leadership update.
func (m *Manager) MarkLeaders(date time.Time) {
	m.update(func(s *State) { s.LastLeaderDate = later(s.LastLeaderDate, date) })
}

// MarkRecompute records when the last historical recomputation finished.
func (m *Manager) MarkRecompute(at time.Time) {
	m.update(func(s *State) { s.LastRecomputeAt = at })
}

// MarkRun records the outcome of a job run. A nil err clears the last error.
func (m *Manager) MarkRun(runID string, err error) {
	m.update(func(s *State) {
		s.LastRunID = runID
		s.LastError = ""
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
	if err := SaveState(m.filePath, m.state); err != nil {
		m.logger.Error("failed to save run state", "file", m.filePath, "err", err)
	}
}

// later keeps dates monotonic so a backfill of old days does not move them back.
func later(cur, next time.Time) time.Time {
	next = model.Day(next)
	if next.After(cur) {
		return next
	}
	return cur
}
