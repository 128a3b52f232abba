package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"queuewatch/analytics"
	"queuewatch/cache"
	"queuewatch/metrics"
	"queuewatch/models"
	"queuewatch/source"
)

const maxPollTimeout = 30 * time.Second

// Monitor polls scalar sources on fixed cadences and feeds each
// source's detector. Every source gets its own worker goroutine and
// its own detector instance, so sources never share mutable state;
// within a worker, detector updates are strictly sequential.
type Monitor struct {
	log   *zap.Logger
	redis *cache.RedisClient

	mu      sync.RWMutex
	workers map[string]*pollWorker
	started bool
	wg      sync.WaitGroup
}

// NewMonitor creates an empty monitor. redis may be nil; the monitor
// degrades to in-memory status only.
func NewMonitor(log *zap.Logger, redis *cache.RedisClient) *Monitor {
	return &Monitor{
		log:     log,
		redis:   redis,
		workers: make(map[string]*pollWorker),
	}
}

// Add registers a source with its detector and polling interval.
// Intervals below one second are clamped up. If the monitor is already
// running the worker starts immediately.
func (m *Monitor) Add(src source.Source, det *analytics.Detector, interval time.Duration) error {
	if interval < time.Second {
		interval = time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	name := src.Name()
	if _, exists := m.workers[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}

	w := &pollWorker{
		log:      m.log,
		redis:    m.redis,
		src:      src,
		det:      det,
		interval: interval,
		stop:     make(chan struct{}),
	}
	w.status.Name = name
	w.status.PollSeconds = int(interval / time.Second)
	if q, ok := src.(interface{ Query() string }); ok {
		w.status.Query = q.Query()
	}
	m.workers[name] = w

	if m.started {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.run()
		}()
	}
	return nil
}

// Start launches all registered workers. Each performs an immediate
// first poll and then settles onto its cadence.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for _, w := range m.workers {
		w := w
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.run()
		}()
	}
	m.log.Info("monitor started", zap.Int("sources", len(m.workers)))
}

// Stop halts all workers, waits for them to finish their current poll,
// and closes the underlying sources.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	workers := make([]*pollWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
	}
	m.wg.Wait()
	for _, w := range workers {
		if err := w.src.Close(); err != nil {
			m.log.Warn("failed to close source",
				zap.String("source", w.src.Name()), zap.Error(err))
		}
	}
	m.log.Info("monitor stopped")
}

// SetFrequency changes a source's polling interval at runtime. The
// worker realigns its schedule on the next tick rather than waiting
// out the old interval.
func (m *Monitor) SetFrequency(name string, interval time.Duration) error {
	if interval < time.Second {
		interval = time.Second
	}
	m.mu.RLock()
	w, ok := m.workers[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown source %q", name)
	}
	w.setInterval(interval)
	return nil
}

// Status returns the snapshot for one source.
func (m *Monitor) Status(name string) (models.SourceStatus, bool) {
	m.mu.RLock()
	w, ok := m.workers[name]
	m.mu.RUnlock()
	if !ok {
		return models.SourceStatus{}, false
	}
	return w.snapshot(), true
}

// Statuses returns snapshots for all sources, sorted by name.
func (m *Monitor) Statuses() []models.SourceStatus {
	m.mu.RLock()
	out := make([]models.SourceStatus, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// pollWorker owns one source and its detector.
type pollWorker struct {
	log   *zap.Logger
	redis *cache.RedisClient
	src   source.Source
	det   *analytics.Detector

	freqMu   sync.Mutex
	interval time.Duration
	realign  bool

	stop chan struct{}

	statMu sync.RWMutex
	status models.SourceStatus
}

func (w *pollWorker) setInterval(interval time.Duration) {
	w.freqMu.Lock()
	w.interval = interval
	w.realign = true
	w.freqMu.Unlock()

	w.statMu.Lock()
	w.status.PollSeconds = int(interval / time.Second)
	w.statMu.Unlock()
}

// schedule returns the current interval and consumes the realign flag.
func (w *pollWorker) schedule() (time.Duration, bool) {
	w.freqMu.Lock()
	defer w.freqMu.Unlock()
	realign := w.realign
	w.realign = false
	return w.interval, realign
}

// run polls immediately, then on a fixed cadence. The next deadline
// advances from the previous one so slow polls do not drift the
// schedule; after a frequency change, or if a poll overran the
// interval, the schedule realigns from now.
func (w *pollWorker) run() {
	next := time.Now()
	for {
		w.poll()

		interval, realign := w.schedule()
		next = next.Add(interval)
		now := time.Now()
		if realign || !next.After(now) {
			next = now.Add(interval)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-w.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *pollWorker) pollTimeout() time.Duration {
	interval, _ := w.schedule()
	if interval > maxPollTimeout {
		return maxPollTimeout
	}
	return interval
}

func (w *pollWorker) poll() {
	name := w.src.Name()

	ctx, cancel := context.WithTimeout(context.Background(), w.pollTimeout())
	start := time.Now()
	value, err := w.src.FetchScalar(ctx)
	cancel()
	metrics.ObservePoll(name, time.Since(start))

	if err != nil {
		metrics.RecordPollError(name)
		w.log.Warn("poll failed", zap.String("source", name), zap.Error(err))
		w.setError(err)
		return
	}

	pred, err := w.det.AddAndPredict(value)
	if err != nil {
		metrics.RecordPollError(name)
		w.log.Warn("sample rejected",
			zap.String("source", name), zap.Float64("value", value), zap.Error(err))
		w.setError(err)
		return
	}

	tick := models.Tick{
		Timestamp: time.Now(),
		Source:    name,
		Value:     value,
		Anomaly:   pred.Anomaly,
		Threshold: pred.Threshold,
	}
	if pred.Warm {
		forecast := pred.Forecast
		tick.Forecast = &forecast
	}

	metrics.RecordTick(name, value, pred.Forecast, pred.Threshold, pred.Warm)
	if pred.Anomaly {
		metrics.RecordAnomaly(name)
		w.log.Warn("anomaly detected",
			zap.String("source", name),
			zap.Float64("value", value),
			zap.Float64("forecast", pred.Forecast),
			zap.Float64("residual_up", pred.ResidualUp),
			zap.Float64("threshold", pred.Threshold))
		if w.redis != nil {
			if err := w.redis.IncrementAnomalyCount(name); err != nil {
				w.log.Warn("failed to count anomaly in redis", zap.Error(err))
			}
		}
	}
	if w.redis != nil {
		if err := w.redis.StoreTick(tick); err != nil {
			w.log.Warn("failed to store tick in redis", zap.Error(err))
		}
	}

	w.recordTick(tick)
}

func (w *pollWorker) setError(err error) {
	w.statMu.Lock()
	w.status.LastError = err.Error()
	w.statMu.Unlock()
}

func (w *pollWorker) recordTick(tick models.Tick) {
	w.statMu.Lock()
	w.status.Ticks++
	if tick.Anomaly {
		w.status.Anomalies++
	}
	w.status.LastTick = &tick
	w.status.LastError = ""
	w.statMu.Unlock()

	if w.redis != nil {
		if err := w.redis.StoreStatus(w.snapshot()); err != nil {
			w.log.Warn("failed to store status in redis", zap.Error(err))
		}
	}
}

func (w *pollWorker) snapshot() models.SourceStatus {
	w.statMu.RLock()
	defer w.statMu.RUnlock()
	return w.status
}
