package collector

import (
	"context"
	"time"
)

// RawRow is one provider row keyed by the provider's column names.
type RawRow map[string]string

// Fetcher defines the interface for fetching the industry classification
// table of one market on one date.
type Fetcher interface {
	FetchIndustryRows(ctx context.Context, date time.Time, marketCode string) ([]RawRow, error)
	Name() string
}
