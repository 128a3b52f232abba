package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"queuewatch/analytics"
)

// stubSource yields a fixed value and counts fetches.
type stubSource struct {
	name    string
	value   float64
	err     error
	fetches atomic.Int64
	closed  atomic.Bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchScalar(ctx context.Context) (float64, error) {
	s.fetches.Add(1)
	return s.value, s.err
}

func (s *stubSource) Close() error {
	s.closed.Store(true)
	return nil
}

func testDetector(t *testing.T) *analytics.Detector {
	t.Helper()
	cfg := analytics.DefaultConfig()
	cfg.WindowSize = 16
	det, err := analytics.NewDetector(cfg)
	require.NoError(t, err)
	return det
}

func TestMonitorPollsAndStops(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	src := &stubSource{name: "orders", value: 12}
	require.NoError(t, m.Add(src, testDetector(t), time.Second))

	m.Start()
	// The first poll happens immediately.
	require.Eventually(t, func() bool {
		return src.fetches.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	status, ok := m.Status("orders")
	require.True(t, ok)
	assert.Equal(t, "orders", status.Name)

	m.Stop()
	assert.True(t, src.closed.Load(), "source not closed on stop")
}

func TestMonitorRejectsDuplicateSource(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	require.NoError(t, m.Add(&stubSource{name: "a"}, testDetector(t), time.Second))
	assert.Error(t, m.Add(&stubSource{name: "a"}, testDetector(t), time.Second))
}

func TestMonitorRecordsPollErrors(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	src := &stubSource{name: "broken", err: errors.New("connection refused")}
	require.NoError(t, m.Add(src, testDetector(t), time.Second))

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		status, ok := m.Status("broken")
		return ok && status.LastError != ""
	}, 2*time.Second, 10*time.Millisecond)

	status, _ := m.Status("broken")
	assert.Contains(t, status.LastError, "connection refused")
	assert.Equal(t, int64(0), status.Ticks, "failed polls must not count as ticks")
}

func TestMonitorSetFrequency(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	src := &stubSource{name: "orders", value: 1}
	require.NoError(t, m.Add(src, testDetector(t), 30*time.Second))

	require.NoError(t, m.SetFrequency("orders", 100*time.Millisecond))
	status, ok := m.Status("orders")
	require.True(t, ok)
	// Sub-second intervals clamp to one second.
	assert.Equal(t, 1, status.PollSeconds)

	assert.Error(t, m.SetFrequency("missing", time.Second))
}

func TestMonitorStatusesSorted(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, m.Add(&stubSource{name: name}, testDetector(t), time.Second))
	}
	statuses := m.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "b", statuses[1].Name)
	assert.Equal(t, "c", statuses[2].Name)
}
