package calculator

// Mean returns the arithmetic mean of values, or ok=false when values is empty.
func Mean(values []float64) (mean float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// MaxPeriod returns the longest period among horizons.
func MaxPeriod(periods ...int) int {
	m := 0
	for _, p := range periods {
		if p > m {
			m = p
		}
	}
	return m
}
