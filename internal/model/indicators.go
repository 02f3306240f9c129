package model

import (
	"database/sql"
	"time"
)

// Horizon is a named RSI lookback period, counted in observations.
type Horizon struct {
	Name   string `yaml:"name" validate:"required"`
	Period int    `yaml:"period" validate:"gt=0"`
}

// DefaultHorizons are the daily, weekly and monthly lookbacks.
var DefaultHorizons = []Horizon{
	{Name: "d", Period: 14},
	{Name: "w", Period: 30},
	{Name: "m", Period: 90},
}

// DailyHorizon is the horizon used for overbought/oversold classification.
const DailyHorizon = "d"

// HorizonValues maps a horizon name to its RSI. Invalid means undefined.
type HorizonValues map[string]sql.NullFloat64

// SectorIndicator is the per-industry RSI record for one trading date.
type SectorIndicator struct {
	TradeDate time.Time
	Segment   string
	Industry  string
	Values    HorizonValues
}

// Value returns the RSI for a horizon and whether it is defined.
func (s SectorIndicator) Value(horizon string) (float64, bool) {
	v, ok := s.Values[horizon]
	if !ok || !v.Valid {
		return 0, false
	}
	return v.Float64, true
}
