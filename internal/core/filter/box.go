package filter

import (
	"facebooth-go/config"
	"facebooth-go/internal/core/models"
)

// BoxFilter smooths a face box with four independent filters: centre x,
// centre y, width and height.
type BoxFilter struct {
	cx, cy, w, h *OneEuro
}

// BoxState is a snapshot of all four filter states.
type BoxState [4]State

// NewBoxFilter creates a BoxFilter where every scalar uses p.
func NewBoxFilter(p Params) *BoxFilter {
	return &BoxFilter{
		cx: NewOneEuro(p),
		cy: NewOneEuro(p),
		w:  NewOneEuro(p),
		h:  NewOneEuro(p),
	}
}

// Filter smooths the box with centre c and size w x h at timestamp t (seconds).
func (b *BoxFilter) Filter(c models.Point, w, h, t float64) (models.Point, float64, float64) {
	return models.Point{X: b.cx.Filter(c.X, t), Y: b.cy.Filter(c.Y, t)},
		b.w.Filter(w, t),
		b.h.Filter(h, t)
}

// SetParams updates the parameters of all four filters.
func (b *BoxFilter) SetParams(p Params) {
	for _, f := range b.filters() {
		f.SetParams(p)
	}
}

// Reset drops the state of all four filters.
func (b *BoxFilter) Reset() {
	for _, f := range b.filters() {
		f.Reset()
	}
}

// Save returns the current state so that a failed frame can be rolled back.
func (b *BoxFilter) Save() BoxState {
	var s BoxState
	for i, f := range b.filters() {
		s[i] = f.State()
	}
	return s
}

// Restore rolls the filters back to s.
func (b *BoxFilter) Restore(s BoxState) {
	for i, f := range b.filters() {
		f.Restore(s[i])
	}
}

func (b *BoxFilter) filters() [4]*OneEuro {
	return [4]*OneEuro{b.cx, b.cy, b.w, b.h}
}

// ParamsFromConfig converts the configured filter values.
func ParamsFromConfig(c config.FilterConfig) Params {
	return Params{
		Frequency: c.Frequency,
		MinCutoff: c.MinCutoff,
		Beta:      c.Beta,
		DCutoff:   c.DCutoff,
	}
}
