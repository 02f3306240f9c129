package runstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.True(t, s.LastIndicatorDate.IsZero())
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestManagerPersistsAndStaysMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	m, err := NewManager(path, nil)
	require.NoError(t, err)

	d1 := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 10, 16, 18, 30, 0, 0, time.UTC)
	m.MarkCollected(d2)
	m.MarkCollected(d1)
	m.MarkIndicators(d2)
	m.MarkLeaders(d2)
	m.MarkRun("run-1", errors.New("telegram down"))

	got := m.Get()
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), got.LastCollectedDate)
	assert.Equal(t, "telegram down", got.LastError)

	reloaded, err := NewManager(path, nil)
	require.NoError(t, err)
	state := reloaded.Get()
	assert.True(t, state.LastCollectedDate.Equal(got.LastCollectedDate))
	assert.True(t, state.LastIndicatorDate.Equal(got.LastIndicatorDate))
	assert.Equal(t, "run-1", state.LastRunID)

	reloaded.MarkRun("run-2", nil)
	assert.Empty(t, reloaded.Get().LastError)
}
