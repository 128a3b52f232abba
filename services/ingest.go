package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"queuewatch/analytics"
	"queuewatch/cache"
	"queuewatch/metrics"
	"queuewatch/models"
)

// Ingest accepts pushed samples for named signals. Every signal gets
// its own detector, created lazily on first use; a per-signal mutex
// keeps updates serialized in arrival order while distinct signals
// proceed in parallel.
type Ingest struct {
	log    *zap.Logger
	redis  *cache.RedisClient
	detCfg analytics.Config

	mu      sync.RWMutex
	signals map[string]*signal
}

type signal struct {
	name string

	mu        sync.Mutex
	det       *analytics.Detector
	ticks     int64
	anomalies int64
	last      *models.Tick
}

// NewIngest creates the push-mode service. All signals share the same
// detector parameters; redis may be nil.
func NewIngest(log *zap.Logger, redis *cache.RedisClient, detCfg analytics.Config) (*Ingest, error) {
	// Fail fast: better to reject bad parameters at startup than on
	// the first pushed sample.
	if err := detCfg.Validate(); err != nil {
		return nil, err
	}
	return &Ingest{
		log:     log,
		redis:   redis,
		detCfg:  detCfg,
		signals: make(map[string]*signal),
	}, nil
}

func (in *Ingest) getOrCreate(name string) (*signal, error) {
	in.mu.RLock()
	sig, ok := in.signals[name]
	in.mu.RUnlock()
	if ok {
		return sig, nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if sig, ok = in.signals[name]; ok {
		return sig, nil
	}
	det, err := analytics.NewDetector(in.detCfg)
	if err != nil {
		return nil, fmt.Errorf("signal %q: %w", name, err)
	}
	sig = &signal{name: name, det: det}
	in.signals[name] = sig
	in.log.Info("signal registered", zap.String("signal", name))
	return sig, nil
}

// Process applies one sample to the named signal and returns the
// resulting tick.
func (in *Ingest) Process(name string, value float64) (models.Tick, error) {
	sig, err := in.getOrCreate(name)
	if err != nil {
		return models.Tick{}, err
	}

	sig.mu.Lock()
	defer sig.mu.Unlock()
	return in.apply(sig, value)
}

// ProcessBatch replays an ordered sequence of samples through the
// named signal's detector. The whole batch runs under the signal lock
// so no interleaved sample can break the ordering.
func (in *Ingest) ProcessBatch(name string, values []float64) ([]models.Tick, error) {
	sig, err := in.getOrCreate(name)
	if err != nil {
		return nil, err
	}

	sig.mu.Lock()
	defer sig.mu.Unlock()

	ticks := make([]models.Tick, 0, len(values))
	for i, v := range values {
		tick, err := in.apply(sig, v)
		if err != nil {
			return ticks, fmt.Errorf("sample %d: %w", i, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// apply runs one detector update. Callers must hold sig.mu.
func (in *Ingest) apply(sig *signal, value float64) (models.Tick, error) {
	pred, err := sig.det.AddAndPredict(value)
	if err != nil {
		return models.Tick{}, err
	}

	tick := models.Tick{
		Timestamp: time.Now(),
		Source:    sig.name,
		Value:     value,
		Anomaly:   pred.Anomaly,
		Threshold: pred.Threshold,
	}
	if pred.Warm {
		forecast := pred.Forecast
		tick.Forecast = &forecast
	}

	sig.ticks++
	if pred.Anomaly {
		sig.anomalies++
	}
	sig.last = &tick

	metrics.RecordTick(sig.name, value, pred.Forecast, pred.Threshold, pred.Warm)
	if pred.Anomaly {
		metrics.RecordAnomaly(sig.name)
		in.log.Warn("anomaly detected",
			zap.String("signal", sig.name),
			zap.Float64("value", value),
			zap.Float64("forecast", pred.Forecast),
			zap.Float64("threshold", pred.Threshold))
		if in.redis != nil {
			if err := in.redis.IncrementAnomalyCount(sig.name); err != nil {
				in.log.Warn("failed to count anomaly in redis", zap.Error(err))
			}
		}
	}
	if in.redis != nil {
		if err := in.redis.StoreTick(tick); err != nil {
			in.log.Warn("failed to store tick in redis", zap.Error(err))
		}
	}

	return tick, nil
}

// Status returns the snapshot for one signal.
func (in *Ingest) Status(name string) (models.SourceStatus, bool) {
	in.mu.RLock()
	sig, ok := in.signals[name]
	in.mu.RUnlock()
	if !ok {
		return models.SourceStatus{}, false
	}
	return sig.snapshot(), true
}

// Statuses returns snapshots for all known signals, sorted by name.
func (in *Ingest) Statuses() []models.SourceStatus {
	in.mu.RLock()
	out := make([]models.SourceStatus, 0, len(in.signals))
	for _, sig := range in.signals {
		out = append(out, sig.snapshot())
	}
	in.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (sig *signal) snapshot() models.SourceStatus {
	sig.mu.Lock()
	defer sig.mu.Unlock()
	return models.SourceStatus{
		Name:      sig.name,
		Ticks:     sig.ticks,
		Anomalies: sig.anomalies,
		LastTick:  sig.last,
	}
}
