package analytics

import "math"

// statThreshold is the statistical criterion: a one-sided z-like bound
// at kUpper times the EW residual std, floored so a collapsed scale
// estimate cannot produce a zero threshold.
func statThreshold(kUpper, ewStd float64) float64 {
	return kUpper * math.Max(ewStd, epsScale)
}

// relThreshold is the relative criterion: a minimum increase relative
// to the forecast. The forecast is floored at 1 so near-zero forecasts
// do not yield a near-zero, over-sensitive threshold.
func relThreshold(minRelIncrease, forecast float64) float64 {
	return minRelIncrease * math.Max(forecast, 1.0)
}

// composeThreshold combines the three independently evolving criteria
// via a max-rule: the observed upward residual must clear all of them.
func composeThreshold(stat, rel, quantile float64) float64 {
	return math.Max(stat, math.Max(rel, quantile))
}
