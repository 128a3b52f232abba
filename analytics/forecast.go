package analytics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// epsScale is the smallest scale estimate any path may report.
	epsScale = 1e-6
	// maxLags caps the autoregressive order.
	maxLags = 8
)

// Forecast produces a one-step-ahead prediction for the given history
// together with a baseline noise-scale estimate.
//
// The primary strategy is a short-horizon autoregressive least-squares
// fit. If that fit fails numerically (rank deficiency, ill conditioning,
// non-finite output), a robust linear-trend extrapolation takes over.
// The fallback is invisible to the caller: both strategies return the
// same shape and Forecast never fails.
//
// Queue depths cannot be negative, so the returned forecast is clamped
// to be >= 0.
func Forecast(history []float64) (forecast, baseScale float64) {
	if f, scale, ok := arForecast(history); ok {
		return math.Max(0, f), scale
	}
	f, scale := trendForecast(history)
	return math.Max(0, f), scale
}

// arForecast fits an AR(p) model with intercept by least squares and
// predicts one step ahead. The third return value reports whether the
// fit succeeded; on false the other values are meaningless.
func arForecast(history []float64) (float64, float64, bool) {
	n := len(history)
	p := min(maxLags, max(1, n/5))
	rows := n - p
	if rows < p+1 {
		return 0, 0, false
	}

	a := mat.NewDense(rows, p+1, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		t := p + i
		a.Set(i, 0, 1)
		for j := 1; j <= p; j++ {
			a.Set(i, j, history[t-j])
		}
		y.SetVec(i, history[t])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(a, y); err != nil {
		return 0, 0, false
	}

	forecast := beta.AtVec(0)
	for j := 1; j <= p; j++ {
		forecast += beta.AtVec(j) * history[n-j]
	}
	if math.IsNaN(forecast) || math.IsInf(forecast, 0) {
		return 0, 0, false
	}

	scale := madStd(history)
	if rows >= 2 {
		resid := make([]float64, rows)
		for i := 0; i < rows; i++ {
			t := p + i
			fitted := beta.AtVec(0)
			for j := 1; j <= p; j++ {
				fitted += beta.AtVec(j) * history[t-j]
			}
			resid[i] = history[t] - fitted
		}
		if s := stat.StdDev(resid, nil); !math.IsNaN(s) {
			scale = s
		}
	}
	return forecast, scale, true
}

// trendForecast fits a degree-1 polynomial over (index, value) pairs
// and extrapolates one step past the last index. It cannot fail.
func trendForecast(history []float64) (float64, float64) {
	xs := make([]float64, len(history))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, history, nil, false)
	forecast := alpha + beta*float64(len(history))
	if math.IsNaN(forecast) || math.IsInf(forecast, 0) {
		forecast = history[len(history)-1]
	}
	return forecast, madStd(history)
}

// madStd estimates scale via the median absolute deviation, scaled by
// 1.4826 to be consistent with the standard deviation under normality.
// Never returns less than epsScale.
func madStd(xs []float64) float64 {
	if len(xs) == 0 {
		return epsScale
	}
	med := median(xs)
	dev := make([]float64, len(xs))
	for i, v := range xs {
		dev[i] = math.Abs(v - med)
	}
	return math.Max(epsScale, 1.4826*median(dev))
}

func median(xs []float64) float64 {
	return quantileLinear(0.5, xs)
}
