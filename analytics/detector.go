package analytics

import (
	"fmt"
	"math"
)

// Default detector parameters.
const (
	DefaultWindowSize     = 64
	DefaultKUpper         = 3.0
	DefaultMinRelIncrease = 0.25
	DefaultQuantile       = 0.995
	DefaultEWAlpha        = 0.2
	DefaultDebounce       = 1

	// MinWindowSize is the smallest allowed history window.
	MinWindowSize = 16
)

// Config holds the detector parameters. Changing WindowSize after
// construction is not supported; build a new Detector instead.
type Config struct {
	// WindowSize is the number of points retained for forecasting and
	// the empirical quantile. Must be >= MinWindowSize.
	WindowSize int `mapstructure:"window_size" json:"window_size"`
	// KUpper multiplies the EW residual std (one-sided z-like bound).
	KUpper float64 `mapstructure:"k_upper" json:"k_upper"`
	// MinRelIncrease is the minimum relative increase wrt the forecast
	// (0.25 == +25%).
	MinRelIncrease float64 `mapstructure:"min_rel_increase" json:"min_rel_increase"`
	// Q is the empirical quantile level over positive residuals.
	Q float64 `mapstructure:"q" json:"q"`
	// EWAlpha is the EWMA smoothing factor for residual magnitude.
	EWAlpha float64 `mapstructure:"ew_alpha" json:"ew_alpha"`
	// Debounce suppresses the next N ticks after a trigger.
	Debounce int `mapstructure:"debounce" json:"debounce"`
}

// DefaultConfig returns the standard detector parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize:     DefaultWindowSize,
		KUpper:         DefaultKUpper,
		MinRelIncrease: DefaultMinRelIncrease,
		Q:              DefaultQuantile,
		EWAlpha:        DefaultEWAlpha,
		Debounce:       DefaultDebounce,
	}
}

// Validate checks the parameters. Invalid configuration is a
// programmer error and fails fast at construction.
func (c Config) Validate() error {
	if c.WindowSize < MinWindowSize {
		return fmt.Errorf("window_size must be >= %d, got %d", MinWindowSize, c.WindowSize)
	}
	if !(c.KUpper > 0) {
		return fmt.Errorf("k_upper must be > 0, got %v", c.KUpper)
	}
	if c.MinRelIncrease < 0 || math.IsNaN(c.MinRelIncrease) {
		return fmt.Errorf("min_rel_increase must be >= 0, got %v", c.MinRelIncrease)
	}
	if !(c.Q > 0 && c.Q < 1) {
		return fmt.Errorf("q must be in (0, 1), got %v", c.Q)
	}
	if !(c.EWAlpha > 0 && c.EWAlpha < 1) {
		return fmt.Errorf("ew_alpha must be in (0, 1), got %v", c.EWAlpha)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must be >= 0, got %d", c.Debounce)
	}
	return nil
}

// Prediction is the per-sample detector output.
type Prediction struct {
	// Anomaly is true only for upward spikes beyond the adaptive
	// threshold, after debouncing.
	Anomaly bool `json:"anomaly"`
	// Warm is false while the detector is still accumulating its
	// minimum history; the remaining fields are meaningless then.
	Warm bool `json:"warm"`
	// Forecast is the one-step-ahead prediction, clamped >= 0.
	Forecast float64 `json:"forecast"`
	// ResidualUp is max(0, value - Forecast).
	ResidualUp float64 `json:"residual_up"`
	// Threshold is the composed adaptive threshold the residual was
	// compared against.
	Threshold float64 `json:"threshold"`
	// BaseScale is the forecaster's in-sample noise-scale estimate.
	// It is reported for observability but carries no weight in the
	// threshold composition.
	BaseScale float64 `json:"base_scale"`
}

// debounceState is the detector's event state machine.
type debounceState int

const (
	// armed: raw detections are emitted and start a cooldown.
	armed debounceState = iota
	// cooling: raw detections are suppressed until the cooldown ends.
	cooling
)

// Detector is a one-sided, adaptive spike detector for queue-like
// signals.
//
// It forecasts the next value from recent history, compares the upward
// residual against the max of three adaptive thresholds (EW residual
// std, relative increase over the forecast, empirical quantile of past
// upward residuals), and debounces consecutive triggers so one spike
// event is reported once.
//
// A Detector owns exactly one signal and is not safe for concurrent
// use: calls to AddAndPredict must be serialized in arrival order.
// Independent signals get independent instances.
type Detector struct {
	cfg Config

	history  *Window
	scale    *ResidualScale
	spikes   *SpikeQuantile
	warmSize int

	state    debounceState
	cooldown int
}

// NewDetector builds a detector for one signal, validating cfg.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	return &Detector{
		cfg:      cfg,
		history:  NewWindow(cfg.WindowSize),
		scale:    NewResidualScale(cfg.EWAlpha),
		spikes:   NewSpikeQuantile(cfg.WindowSize),
		warmSize: max(8, cfg.WindowSize/4),
		state:    armed,
	}, nil
}

// Config returns the parameters the detector was built with.
func (d *Detector) Config() Config {
	return d.cfg
}

// HistoryLen returns the number of raw observations currently held.
func (d *Detector) HistoryLen() int {
	return d.history.Len()
}

// AddAndPredict consumes one new observation and returns the decision
// together with the forecast for this tick.
//
// Non-finite values are rejected before any internal state is touched,
// so a bad sample never partially applies. During warm-up the sample
// is buffered and a cold (Warm=false) prediction is returned.
func (d *Detector) AddAndPredict(value float64) (Prediction, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Prediction{}, fmt.Errorf("sample is not a finite number: %v", value)
	}

	d.history.Append(value)
	if d.history.Len() < d.warmSize {
		return Prediction{}, nil
	}

	values := d.history.Values()
	forecast, baseScale := Forecast(values[:len(values)-1])

	residual := value - forecast
	residualUp := math.Max(0, residual)

	// The decision uses the tracker state built from past samples
	// only; a spike must not inflate the bar it is judged against.
	threshold := composeThreshold(
		statThreshold(d.cfg.KUpper, d.scale.Std()),
		relThreshold(d.cfg.MinRelIncrease, forecast),
		d.spikes.Threshold(d.cfg.Q),
	)

	raw := residualUp > threshold

	d.scale.Update(math.Abs(residual))
	d.spikes.Record(residualUp)

	return Prediction{
		Anomaly:    d.debounce(raw),
		Warm:       true,
		Forecast:   forecast,
		ResidualUp: residualUp,
		Threshold:  threshold,
		BaseScale:  baseScale,
	}, nil
}

// debounce runs the Armed/Cooling state machine. A raw detection while
// armed is emitted and starts the cooldown; detections during the
// cooldown are forced negative and do not re-arm it.
func (d *Detector) debounce(raw bool) bool {
	if d.state == cooling {
		d.cooldown--
		if d.cooldown <= 0 {
			d.cooldown = 0
			d.state = armed
		}
		return false
	}
	if raw && d.cfg.Debounce > 0 {
		d.state = cooling
		d.cooldown = d.cfg.Debounce
	}
	return raw
}

// Replay feeds a sequence of samples in order and collects the
// per-sample predictions. It is a convenience over repeated
// AddAndPredict calls and does not change their semantics; it stops at
// the first rejected sample.
func (d *Detector) Replay(values []float64) ([]Prediction, error) {
	out := make([]Prediction, 0, len(values))
	for i, v := range values {
		p, err := d.AddAndPredict(v)
		if err != nil {
			return out, fmt.Errorf("sample %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
