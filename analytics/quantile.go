package analytics

import (
	"math"
	"sort"
)

// SpikeQuantile keeps a bounded history of positive (upward) forecast
// residuals and reports a high empirical quantile over them. Downward
// deviations are never recorded, so the tracked distribution reflects
// only upward-spike behavior. Older spikes age out with the window.
type SpikeQuantile struct {
	window *Window
	warm   int
}

// NewSpikeQuantile creates a tracker holding at most windowSize
// residuals. The quantile starts constraining decisions once
// max(10, windowSize/6) residuals have been recorded.
func NewSpikeQuantile(windowSize int) *SpikeQuantile {
	return &SpikeQuantile{
		window: NewWindow(windowSize),
		warm:   max(10, windowSize/6),
	}
}

// Record stores the residual if it is strictly positive; zero and
// negative residuals are ignored.
func (sq *SpikeQuantile) Record(residual float64) {
	if residual > 0 {
		sq.window.Append(residual)
	}
}

// Threshold returns the q-quantile over the recorded residuals using
// linear interpolation between order statistics. Before the tracker is
// warm it returns 0, so this criterion does not yet constrain the
// composed threshold.
func (sq *SpikeQuantile) Threshold(q float64) float64 {
	if sq.window.Len() < sq.warm {
		return 0
	}
	return quantileLinear(q, sq.window.Values())
}

// Len returns the number of residuals currently recorded.
func (sq *SpikeQuantile) Len() int {
	return sq.window.Len()
}

// quantileLinear computes the q-quantile of xs by linear interpolation
// between order statistics: with h = q*(n-1), the result interpolates
// between the floor(h)-th and ceil(h)-th sorted values. xs is not
// modified.
func quantileLinear(q float64, xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return xs[0]
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	h := q * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
