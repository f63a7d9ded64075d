// Package detector turns raw face model output into at most one usable
// face per frame.
package detector

import (
	"image"
	"math"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Model is an external face detection model.
type Model interface {
	Detect(frame image.Image) ([]models.Candidate, error)
}

// Outcome explains the result of Adapter.Detect.
type Outcome int

const (
	OutcomeDetected Outcome = iota
	OutcomeNone
	OutcomeTooSmall
	OutcomeNotFrontal
	OutcomeOutOfTolerance
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDetected:
		return "detected"
	case OutcomeNone:
		return "none"
	case OutcomeTooSmall:
		return "too_small"
	case OutcomeNotFrontal:
		return "not_frontal"
	case OutcomeOutOfTolerance:
		return "out_of_tolerance"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Adapter wraps a Model and applies candidate selection and rejection rules.
type Adapter struct {
	model Model
}

// NewAdapter creates an Adapter for m.
func NewAdapter(m Model) *Adapter {
	return &Adapter{model: m}
}

// Detect runs the model on frame and returns the selected face, or nil with
// the reason why nothing usable was found. tracked is the centre of the face
// currently followed, nil if there is none. A model error is not fatal; it is
// logged and reported as OutcomeError.
func (a *Adapter) Detect(frame image.Image, tracked *models.Point, cfg *config.TrackingConfig) (*models.Candidate, Outcome) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, OutcomeNone
	}

	raw, err := a.model.Detect(frame)
	if err != nil {
		log.WithError(err).Warn("Face model failed, treating frame as miss")
		return nil, OutcomeError
	}

	bounds := frame.Bounds()
	candidates := make([]models.Candidate, 0, len(raw))
	for _, c := range raw {
		c.Box = c.Box.Clip(bounds)
		if c.Box.Empty() {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, OutcomeNone
	}

	var chosen *models.Candidate
	if tracked == nil {
		chosen = selectUntracked(candidates, bounds, cfg.SelectionPolicy)
	} else {
		chosen = selectTracked(candidates, *tracked, float64(cfg.JumpThresholdPx))
		if chosen == nil {
			return nil, OutcomeOutOfTolerance
		}
	}

	minSize := float64(cfg.MinFaceSizePx)
	if chosen.Box.Width < minSize || chosen.Box.Height < minSize {
		return nil, OutcomeTooSmall
	}
	if chosen.Landmarks != nil && OrientationRatio(*chosen.Landmarks) > cfg.FrontalThreshold {
		return nil, OutcomeNotFrontal
	}
	return chosen, OutcomeDetected
}

// selectUntracked picks the candidate closest to the frame centre or the most
// confident one, depending on policy.
func selectUntracked(candidates []models.Candidate, bounds image.Rectangle, policy string) *models.Candidate {
	best := 0
	if policy == config.SelectConfidence {
		for i := 1; i < len(candidates); i++ {
			if candidates[i].Confidence > candidates[best].Confidence {
				best = i
			}
		}
		return &candidates[best]
	}

	centre := models.Point{
		X: float64(bounds.Min.X+bounds.Max.X) / 2,
		Y: float64(bounds.Min.Y+bounds.Max.Y) / 2,
	}
	bestDist := candidates[0].Box.Center().DistanceSq(centre)
	for i := 1; i < len(candidates); i++ {
		if d := candidates[i].Box.Center().DistanceSq(centre); d < bestDist {
			best, bestDist = i, d
		}
	}
	return &candidates[best]
}

// selectTracked picks the candidate nearest to tracked whose centre lies
// within tolerance; nil if none does.
func selectTracked(candidates []models.Candidate, tracked models.Point, tolerance float64) *models.Candidate {
	best := -1
	bestDist := math.Inf(1)
	for i := range candidates {
		d := candidates[i].Box.Center().Distance(tracked)
		if d <= tolerance && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil
	}
	return &candidates[best]
}

// OrientationRatio is the horizontal offset of the nose from the eye midpoint
// relative to the distance between the eyes. Frontal faces are close to 0.
func OrientationRatio(l models.Landmarks) float64 {
	interEye := l.RightEye.Distance(l.LeftEye)
	if interEye < 1e-6 {
		return math.Inf(1)
	}
	eyeMidX := (l.RightEye.X + l.LeftEye.X) / 2
	return math.Abs(l.Nose.X-eyeMidX) / interEye
}
