package arbitrage

// HoursPerYear converts per-interval funding rates to annualized rates.
const HoursPerYear = 8760.0

// Annualize extrapolates a per-interval funding rate to a yearly rate.
// The interval must be positive; callers exclude zero-interval snapshots
// as data-quality cases before annualizing.
func Annualize(rate, intervalHours float64) float64 {
	if intervalHours <= 0 {
		return 0
	}
	return rate * HoursPerYear / intervalHours
}

// Project linearly extrapolates a per-interval funding rate over an
// arbitrary horizon. The result assumes the rate holds constant for the
// whole horizon; it is a projection, not a guarantee.
func Project(rate, intervalHours, horizonHours float64) float64 {
	if intervalHours <= 0 {
		return 0
	}
	return rate * horizonHours / intervalHours
}
