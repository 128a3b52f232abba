package analytics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastConstantSeries(t *testing.T) {
	history := make([]float64, 20)
	for i := range history {
		history[i] = 10
	}

	forecast, scale := Forecast(history)
	assert.InDelta(t, 10, forecast, 1e-6)
	assert.GreaterOrEqual(t, scale, epsScale)
}

func TestForecastTracksLinearTrend(t *testing.T) {
	history := make([]float64, 30)
	for i := range history {
		history[i] = 5 + 2*float64(i)
	}

	forecast, _ := Forecast(history)
	assert.InDelta(t, 5+2*30, forecast, 0.5)
}

func TestForecastClampedNonNegative(t *testing.T) {
	// Steep downward trend whose extrapolation is far below zero.
	history := make([]float64, 20)
	for i := range history {
		history[i] = 100 - 40*float64(i)
	}

	forecast, _ := Forecast(history)
	assert.GreaterOrEqual(t, forecast, 0.0)
}

func TestARForecastFitsNoisyAR1(t *testing.T) {
	// x_t = 0.5*x_{t-1} + 20 + noise. The noise keeps the lag columns
	// full rank; a noise-free series would be rank deficient at higher
	// lag orders and (correctly) fall back.
	rng := rand.New(rand.NewSource(1))
	history := make([]float64, 60)
	history[0] = 100
	for i := 1; i < len(history); i++ {
		history[i] = 0.5*history[i-1] + 20 + rng.Float64() - 0.5
	}

	forecast, scale, ok := arForecast(history)
	require.True(t, ok)
	want := 0.5*history[len(history)-1] + 20
	assert.InDelta(t, want, forecast, 5)
	assert.False(t, math.IsNaN(scale))
}

func TestARForecastFailsOnDegenerateSeries(t *testing.T) {
	// Constant history makes the lag columns collinear with the
	// intercept; the primary fit must report failure, not panic.
	history := make([]float64, 40)
	for i := range history {
		history[i] = 12
	}
	_, _, ok := arForecast(history)
	assert.False(t, ok)
}

func TestARForecastFailsOnShortInput(t *testing.T) {
	_, _, ok := arForecast([]float64{1, 2})
	assert.False(t, ok)
}

func TestTrendForecastNeverFails(t *testing.T) {
	forecast, scale := trendForecast([]float64{3, 3, 3, 3, 3})
	assert.False(t, math.IsNaN(forecast))
	assert.InDelta(t, 3, forecast, 1e-9)
	assert.GreaterOrEqual(t, scale, epsScale)
}

func TestMADStd(t *testing.T) {
	assert.Equal(t, epsScale, madStd(nil))

	// Constant data has zero deviation; the floor applies.
	assert.Equal(t, epsScale, madStd([]float64{7, 7, 7, 7}))

	// MAD of {1..7} around median 4 is 2, scaled by 1.4826.
	got := madStd([]float64{1, 2, 3, 4, 5, 6, 7})
	assert.InDelta(t, 2*1.4826, got, 1e-9)
}
