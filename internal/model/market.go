package model

import (
	"database/sql"
	"errors"
	"time"
)

// DateLayout is the canonical trading-date format used in storage and logs.
const DateLayout = "2006-01-02"

// ErrStoreUnavailable marks store failures that make the whole pass unusable
// (lost connection, closed pool). Per-item loops abort on it instead of skipping.
var ErrStoreUnavailable = errors.New("store unavailable")

// PriceObservation is one normalized daily row for a stock.
type PriceObservation struct {
	StockID      string
	StockName    string
	Segment      string
	Industry     string // empty when the feed carries no classification
	TradeDate    time.Time
	ClosePrice   float64
	ChangeAmount sql.NullFloat64
	ChangeRate   sql.NullFloat64
	MarketCap    sql.NullInt64
}

// PricePoint is a single close used for indicator history.
type PricePoint struct {
	TradeDate  time.Time
	ClosePrice sql.NullFloat64
}

// RankedStock is a stock ranked by market capitalization within an industry.
type RankedStock struct {
	StockID    string
	StockName  string
	MarketCap  int64
	ClosePrice float64
	ChangeRate sql.NullFloat64
}

// Segment is a market segment and the code the data provider uses for it.
type Segment struct {
	Name       string `yaml:"name" validate:"required"`
	MarketCode string `yaml:"market_code" validate:"required"`
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD or YYYYMMDD date.
func ParseDay(s string) (time.Time, error) {
	if len(s) == 8 {
		t, err := time.Parse("20060102", s)
		if err == nil {
			return t, nil
		}
	}
	return time.Parse(DateLayout, s)
}
