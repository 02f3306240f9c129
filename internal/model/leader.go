package model

import (
	"fmt"
	"time"
)

// LeaderKey identifies one tracked leadership position.
type LeaderKey struct {
	Segment  string
	Industry string
	Rank     int
}

func (k LeaderKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Segment, k.Industry, k.Rank)
}

// LeadershipRecord is the current holder of an industry rank and how many
// consecutive trading days it has held it.
type LeadershipRecord struct {
	Key       LeaderKey
	StockID   string
	StockName string
	MarketCap int64
	Streak    int
	UpdatedAt time.Time
}
