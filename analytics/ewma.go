package analytics

import "math"

// varFloor keeps the derived standard deviation finite and divisions
// safe once the tracker is initialized.
const varFloor = 1e-12

// ResidualScale tracks an exponentially weighted mean and variance of
// the absolute forecast residual. The variance uses the stabilized
// (Joseph form) update
//
//	var = (1 - alpha) * (var + alpha * delta^2)
//
// which stays non-negative under a drifting mean, unlike a naive
// EWMA-of-squares.
type ResidualScale struct {
	alpha       float64
	mean        float64
	variance    float64
	initialized bool
}

// NewResidualScale creates a tracker with smoothing factor alpha
// (0 < alpha < 1).
func NewResidualScale(alpha float64) *ResidualScale {
	return &ResidualScale{alpha: alpha}
}

// Update folds a new absolute residual into the running estimates.
// The first observation initializes the mean; the variance starts at a
// small positive floor.
func (rs *ResidualScale) Update(x float64) {
	if !rs.initialized {
		rs.mean = x
		rs.variance = epsScale
		rs.initialized = true
		return
	}
	delta := x - rs.mean
	rs.mean += rs.alpha * delta
	rs.variance = (1 - rs.alpha) * (rs.variance + rs.alpha*delta*delta)
}

// Std returns the current standard deviation estimate. Never zero,
// never NaN.
func (rs *ResidualScale) Std() float64 {
	return math.Sqrt(math.Max(rs.variance, varFloor))
}

// Mean returns the current smoothed mean of the absolute residual.
func (rs *ResidualScale) Mean() float64 {
	return rs.mean
}

// Initialized reports whether at least one residual has been observed.
func (rs *ResidualScale) Initialized() bool {
	return rs.initialized
}
