package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SectorSentinel/internal/model"
)

// MockFetcher returns controllable fixed rows for development and testing.
type MockFetcher struct {
	mu sync.Mutex
	// Rows maps "YYYY-MM-DD/marketCode" to the rows returned for it.
	Rows map[string][]RawRow
	// Errs maps the same key to a forced error.
	Errs  map[string]error
	Calls []string
}

func (m *MockFetcher) Name() string { return "mock" }

// MockKey builds the Rows/Errs key for date and marketCode.
func MockKey(date time.Time, marketCode string) string {
	return fmt.Sprintf("%s/%s", model.Day(date).Format(model.DateLayout), marketCode)
}

// Set registers rows for date and marketCode.
func (m *MockFetcher) Set(date time.Time, marketCode string, rows []RawRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Rows == nil {
		m.Rows = make(map[string][]RawRow)
	}
	m.Rows[MockKey(date, marketCode)] = rows
}

func (m *MockFetcher) FetchIndustryRows(ctx context.Context, date time.Time, marketCode string) ([]RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := MockKey(date, marketCode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, key)
	if err := m.Errs[key]; err != nil {
		return nil, err
	}
	return m.Rows[key], nil
}
