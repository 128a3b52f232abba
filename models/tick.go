package models

import (
	"errors"
	"math"
	"time"
)

// SampleInput is one observed count pushed over the API for a named
// signal. Samples must arrive in temporal order; the service applies
// them in the order received.
type SampleInput struct {
	Value float64 `json:"value"`
}

// Validate checks that the sample is usable before it reaches a
// detector. Queue-like counts cannot be negative.
func (s *SampleInput) Validate() error {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return errors.New("value must be a finite number")
	}
	if s.Value < 0 {
		return errors.New("value must be non-negative")
	}
	return nil
}

// BatchInput is an ordered sequence of samples replayed through a
// single signal's detector.
type BatchInput struct {
	Values []float64 `json:"values"`
}

// Validate checks every sample; the batch is rejected as a whole so a
// partial prefix is never silently applied.
func (b *BatchInput) Validate() error {
	if len(b.Values) == 0 {
		return errors.New("values must not be empty")
	}
	for _, v := range b.Values {
		in := SampleInput{Value: v}
		if err := in.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FrequencyInput sets a polled source's cadence at runtime.
type FrequencyInput struct {
	Seconds int `json:"seconds"`
}

// Validate rejects cadences the monitor would clamp anyway.
func (f *FrequencyInput) Validate() error {
	if f.Seconds < 1 {
		return errors.New("seconds must be >= 1")
	}
	return nil
}

// Tick is one detector decision for one signal.
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Value     float64   `json:"value"`
	Anomaly   bool      `json:"anomaly"`
	// Forecast is null while the detector is warming up.
	Forecast  *float64 `json:"forecast"`
	Threshold float64  `json:"threshold,omitempty"`
}

// SourceStatus is a point-in-time snapshot of one monitored source.
type SourceStatus struct {
	Name        string `json:"name"`
	Query       string `json:"query,omitempty"`
	PollSeconds int    `json:"poll_seconds,omitempty"`
	Ticks       int64  `json:"ticks"`
	Anomalies   int64  `json:"anomalies"`
	LastTick    *Tick  `json:"last_tick,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}
