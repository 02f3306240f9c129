package calendar

import "time"

var krxHolidays = map[int][][2]int{
	2025: {
		{1, 1}, {1, 27}, {1, 28}, {1, 29}, {1, 30}, {3, 3}, {5, 1}, {5, 5}, {5, 6},
		{6, 3}, {6, 6}, {8, 15}, {10, 3}, {10, 6}, {10, 7}, {10, 8}, {10, 9}, {12, 25}, {12, 31},
	},
	2026: {
		{1, 1}, {2, 16}, {2, 17}, {2, 18}, {3, 2}, {5, 1}, {5, 5}, {5, 25},
		{6, 3}, {8, 17}, {9, 24}, {9, 25}, {10, 5}, {10, 9}, {12, 25}, {12, 31},
	},
	// Weekday closures only; substitute days included.
	2027: {
		{1, 1}, {2, 8}, {2, 9}, {3, 1}, {5, 5}, {5, 13},
		{8, 16}, {9, 14}, {9, 15}, {9, 16}, {10, 4}, {10, 11}, {12, 27}, {12, 31},
	},
}

// DefaultHolidays returns the built-in KRX market holidays, including the
// year-end closing day.
func DefaultHolidays() []time.Time {
	var out []time.Time
	for year, days := range krxHolidays {
		for _, md := range days {
			out = append(out, time.Date(year, time.Month(md[0]), md[1], 0, 0, 0, 0, time.UTC))
		}
	}
	return out
}
