// Package runstate persists which pipeline stages have completed, so restarts
// and commands know the latest usable dates.
package runstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State records the last completed date of each pipeline stage.
type State struct {
	LastCollectedDate time.Time `json:"last_collected_date"`
	LastIndicatorDate time.Time `json:"last_indicator_date"`
	LastLeaderDate    time.Time `json:"last_leader_date"`
	LastRecomputeAt   time.Time `json:"last_recompute_at"`
	LastRunID         string    `json:"last_run_id,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LoadState reads the state from a JSON file. Returns a zero state if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveState writes the state to a JSON file, replacing it atomically.
func SaveState(filePath string, state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
