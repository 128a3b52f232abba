package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"queuewatch/analytics"
)

func testIngest(t *testing.T) *Ingest {
	t.Helper()
	cfg := analytics.DefaultConfig()
	cfg.WindowSize = 16
	in, err := NewIngest(zap.NewNop(), nil, cfg)
	require.NoError(t, err)
	return in
}

func TestIngestRejectsInvalidDetectorConfig(t *testing.T) {
	cfg := analytics.DefaultConfig()
	cfg.WindowSize = 2
	_, err := NewIngest(zap.NewNop(), nil, cfg)
	assert.Error(t, err)
}

func TestIngestRegistersSignalsLazily(t *testing.T) {
	in := testIngest(t)
	assert.Empty(t, in.Statuses())

	_, err := in.Process("orders", 10)
	require.NoError(t, err)

	statuses := in.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "orders", statuses[0].Name)
	assert.Equal(t, int64(1), statuses[0].Ticks)
}

func TestIngestSignalsAreIndependent(t *testing.T) {
	in := testIngest(t)

	for i := 0; i < 30; i++ {
		_, err := in.Process("a", 10)
		require.NoError(t, err)
	}
	_, err := in.Process("b", 10)
	require.NoError(t, err)

	// Spiking "a" must not disturb "b"'s cold detector.
	tick, err := in.Process("a", 500)
	require.NoError(t, err)
	assert.True(t, tick.Anomaly)

	b, ok := in.Status("b")
	require.True(t, ok)
	assert.Equal(t, int64(0), b.Anomalies)
	assert.Equal(t, int64(1), b.Ticks)
}

func TestIngestBatchPreservesOrder(t *testing.T) {
	in := testIngest(t)

	values := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		values = append(values, 10)
	}
	values = append(values, 500)

	ticks, err := in.ProcessBatch("orders", values)
	require.NoError(t, err)
	require.Len(t, ticks, 21)

	assert.True(t, ticks[20].Anomaly, "spike at end of batch not flagged")
	for i := 0; i < 20; i++ {
		assert.False(t, ticks[i].Anomaly)
	}

	// Warm-up ticks carry no forecast; warm ticks do.
	assert.Nil(t, ticks[0].Forecast)
	require.NotNil(t, ticks[19].Forecast)
	assert.InDelta(t, 10, *ticks[19].Forecast, 1e-6)
}

func TestIngestBatchStopsAtBadSample(t *testing.T) {
	in := testIngest(t)

	ticks, err := in.ProcessBatch("orders", []float64{1, 2, math.NaN(), 4})
	assert.Error(t, err)
	assert.Len(t, ticks, 2)

	status, ok := in.Status("orders")
	require.True(t, ok)
	assert.Equal(t, int64(2), status.Ticks, "rejected sample must not count")
}
