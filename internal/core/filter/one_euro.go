// Package filter smooths the tracked face box with one-euro filters.
package filter

import "math"

// minCutoff keeps every cutoff frequency strictly positive.
const minCutoff = 1e-6

// Params configures a one-euro filter.
type Params struct {
	Frequency float64 // initial sampling frequency in Hz, used until two timestamps are seen
	MinCutoff float64
	Beta      float64
	DCutoff   float64 // fixed cutoff for the derivative
}

// State is the mutable part of a OneEuro filter.
type State struct {
	Initialized bool
	Value       float64
	Derivative  float64
	Timestamp   float64
	Freq        float64
}

// OneEuro is an adaptive low-pass filter for a single scalar. The cutoff grows
// with the speed of the signal: jitter at rest is removed, fast motion is
// followed without lag. Not safe for concurrent use.
type OneEuro struct {
	params Params
	state  State
}

// NewOneEuro creates a filter; state is initialised lazily on the first sample.
func NewOneEuro(p Params) *OneEuro {
	return &OneEuro{params: p}
}

// Filter returns the smoothed value of raw sampled at timestamp (seconds).
// Samples must arrive in timestamp order.
func (f *OneEuro) Filter(raw, timestamp float64) float64 {
	s := &f.state
	if !s.Initialized {
		freq := f.params.Frequency
		if freq <= 0 {
			freq = 30
		}
		*s = State{Initialized: true, Value: raw, Timestamp: timestamp, Freq: freq}
		return raw
	}

	// Equal or backwards timestamps reuse the last frequency.
	if dt := timestamp - s.Timestamp; dt > 0 {
		s.Freq = 1 / dt
	}

	dx := (raw - s.Value) * s.Freq
	dxHat := s.Derivative + alpha(f.params.DCutoff, s.Freq)*(dx-s.Derivative)

	cutoff := math.Max(f.params.MinCutoff, minCutoff) + f.params.Beta*math.Abs(dxHat)
	value := s.Value + alpha(cutoff, s.Freq)*(raw-s.Value)

	s.Value = value
	s.Derivative = dxHat
	s.Timestamp = timestamp
	return value
}

// Reset drops all state; the next sample is returned unchanged.
func (f *OneEuro) Reset() {
	f.state = State{}
}

// SetParams replaces the parameters and keeps the current state.
func (f *OneEuro) SetParams(p Params) {
	f.params = p
}

// State returns a copy of the filter state.
func (f *OneEuro) State() State {
	return f.state
}

// Restore replaces the filter state with s.
func (f *OneEuro) Restore(s State) {
	f.state = s
}

// alpha is the smoothing factor 1 / (1 + tau/te) with tau = 1/(2*pi*cutoff), te = 1/freq.
func alpha(cutoff, freq float64) float64 {
	cutoff = math.Max(cutoff, minCutoff)
	tau := 1 / (2 * math.Pi * cutoff)
	te := 1 / freq
	return 1 / (1 + tau/te)
}
