package analytics

// Window is a bounded FIFO buffer of float64 observations.
// Appending to a full window evicts the oldest value first, so the
// buffer never holds more than its configured size.
type Window struct {
	values []float64
	size   int
}

// NewWindow creates a Window holding at most size values.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		values: make([]float64, 0, size),
		size:   size,
	}
}

// Append adds a value, evicting the oldest one if the window is full.
func (w *Window) Append(v float64) {
	if len(w.values) >= w.size {
		w.values = w.values[1:]
	}
	w.values = append(w.values, v)
}

// Values returns a copy of the current window contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of values currently held.
func (w *Window) Len() int {
	return len(w.values)
}

// Size returns the configured capacity.
func (w *Window) Size() int {
	return w.size
}
