// Package strategy classifies sector RSI readings for the daily report.
package strategy

import (
	"sort"
	"strings"

	"SectorSentinel/internal/model"
)

// State is the coarse overbought/oversold classification.
type State int

const (
	Neutral State = iota
	Overbought
	Oversold
)

func (s State) String() string {
	switch s {
	case Overbought:
		return "overbought"
	case Oversold:
		return "oversold"
	default:
		return "neutral"
	}
}

// Zone is a display band of the RSI scale.
type Zone struct {
	Label string
	Emoji string
	State State
}

// upperZones are matched first, by rsi > Above.
var upperZones = []struct {
	Above float64
	Zone  Zone
}{
	{80, Zone{Label: "과열", Emoji: "🔥", State: Overbought}},
	{70, Zone{Label: "과매수", Emoji: "🔴", State: Overbought}},
	{55, Zone{Label: "강세", Emoji: "🟠", State: Neutral}},
}

// lowerZones are matched next, by rsi < Below.
var lowerZones = []struct {
	Below float64
	Zone  Zone
}{
	{20, Zone{Label: "침체", Emoji: "🧊", State: Oversold}},
	{30, Zone{Label: "과매도", Emoji: "🔵", State: Oversold}},
	{45, Zone{Label: "약세", Emoji: "🟦", State: Neutral}},
}

// NeutralZone covers 45 to 55 inclusive.
var NeutralZone = Zone{Label: "중립", Emoji: "⚪", State: Neutral}

// UndefinedZone is shown when a horizon has no value.
var UndefinedZone = Zone{Label: "N/A", Emoji: "▫️", State: Neutral}

// ZoneOf maps an RSI value to its display band.
func ZoneOf(rsi float64) Zone {
	for _, z := range upperZones {
		if rsi > z.Above {
			return z.Zone
		}
	}
	for _, z := range lowerZones {
		if rsi < z.Below {
			return z.Zone
		}
	}
	return NeutralZone
}

// Classify returns Overbought above 70, Oversold below 30, otherwise Neutral.
func Classify(rsi float64) State {
	return ZoneOf(rsi).State
}

// Summary groups the indicators of one segment and date.
type Summary struct {
	Total int
	// All is ordered by daily RSI descending; undefined values sort last.
	All        []model.SectorIndicator
	Overbought []model.SectorIndicator
	Oversold   []model.SectorIndicator
	Neutral    []model.SectorIndicator
	// Undefined counts industries without a daily value.
	Undefined int
}

// Summarize orders indicators by daily RSI and buckets them by State.
// Industries in excluded are left out; industries with no daily value are kept
// in All but belong to no bucket.
func Summarize(indicators []model.SectorIndicator, excluded []string) Summary {
	skip := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		skip[strings.TrimSpace(e)] = struct{}{}
	}

	var s Summary
	for _, ind := range indicators {
		if _, ok := skip[ind.Industry]; ok {
			continue
		}
		s.All = append(s.All, ind)
	}
	s.Total = len(s.All)

	sort.SliceStable(s.All, func(i, j int) bool {
		vi, oki := s.All[i].Value(model.DailyHorizon)
		vj, okj := s.All[j].Value(model.DailyHorizon)
		switch {
		case oki && okj:
			if vi != vj {
				return vi > vj
			}
			return s.All[i].Industry < s.All[j].Industry
		case oki != okj:
			return oki
		default:
			return s.All[i].Industry < s.All[j].Industry
		}
	})

	for _, ind := range s.All {
		v, ok := ind.Value(model.DailyHorizon)
		if !ok {
			s.Undefined++
			continue
		}
		switch Classify(v) {
		case Overbought:
			s.Overbought = append(s.Overbought, ind)
		case Oversold:
			s.Oversold = append(s.Oversold, ind)
		default:
			s.Neutral = append(s.Neutral, ind)
		}
	}
	return s
}
