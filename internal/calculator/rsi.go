package calculator

// RSI computes the Wilder-smoothed relative strength index of prices, which
// must be ordered oldest to newest. The first averages are a simple mean of
// the first period deltas; later deltas are folded in with alpha = 1/period.
// ok is false when fewer than period+1 prices are available.
//
// A series with no losses returns 100, or 50 when it also has no gains.
func RSI(prices []float64, period int) (rsi float64, ok bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(prices); i++ {
		gain, loss := split(prices[i] - prices[i-1])
		// Conversions block FMA fusion; golden values depend on it.
		avgGain = float64(alpha*gain) + float64((1-alpha)*avgGain)
		avgLoss = float64(alpha*loss) + float64((1-alpha)*avgLoss)
	}

	if avgLoss == 0 {
		if avgGain > 0 {
			return 100.0, true
		}
		return 50.0, true
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs), true
}

func split(change float64) (gain, loss float64) {
	switch {
	case change > 0:
		return change, 0
	case change < 0:
		return 0, -change
	}
	return 0, 0
}
