package detector

import (
	"errors"
	"image"
	"testing"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	candidates []models.Candidate
	err        error
}

func (m *fakeModel) Detect(image.Image) ([]models.Candidate, error) {
	return m.candidates, m.err
}

func trackingConfig() *config.TrackingConfig {
	return &config.TrackingConfig{
		JumpThresholdPx:  100,
		MinFaceSizePx:    40,
		FrontalThreshold: 0.75,
		SelectionPolicy:  config.SelectCenter,
	}
}

func face(cx, cy, size, conf float64) models.Candidate {
	return models.Candidate{Box: models.BoxFromCenter(models.Point{X: cx, Y: cy}, size, size), Confidence: conf}
}

func frontal(c models.Candidate, noseOffset float64) models.Candidate {
	mid := c.Box.Center()
	c.Landmarks = &models.Landmarks{
		RightEye: models.Point{X: mid.X - 10, Y: mid.Y - 10},
		LeftEye:  models.Point{X: mid.X + 10, Y: mid.Y - 10},
		Nose:     models.Point{X: mid.X + noseOffset, Y: mid.Y},
	}
	return c
}

var frame = image.NewRGBA(image.Rect(0, 0, 640, 480))

func TestDetectSelection(t *testing.T) {
	tracked := models.Point{X: 100, Y: 100}
	tests := []struct {
		name       string
		candidates []models.Candidate
		tracked    *models.Point
		policy     string
		wantCenter models.Point
	}{
		{
			name:       "closest to frame centre",
			candidates: []models.Candidate{face(100, 100, 60, 0.99), face(330, 250, 60, 0.6)},
			policy:     config.SelectCenter,
			wantCenter: models.Point{X: 330, Y: 250},
		},
		{
			name:       "highest confidence",
			candidates: []models.Candidate{face(100, 100, 60, 0.99), face(330, 250, 60, 0.6)},
			policy:     config.SelectConfidence,
			wantCenter: models.Point{X: 100, Y: 100},
		},
		{
			name:       "nearest to tracked face",
			candidates: []models.Candidate{face(320, 240, 60, 0.99), face(130, 110, 60, 0.5), face(105, 98, 60, 0.5)},
			tracked:    &tracked,
			policy:     config.SelectCenter,
			wantCenter: models.Point{X: 105, Y: 98},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := trackingConfig()
			cfg.SelectionPolicy = tt.policy
			a := NewAdapter(&fakeModel{candidates: tt.candidates})

			got, outcome := a.Detect(frame, tt.tracked, cfg)
			require.Equal(t, OutcomeDetected, outcome)
			assert.Equal(t, tt.wantCenter, got.Box.Center())
		})
	}
}

func TestDetectRejections(t *testing.T) {
	tracked := models.Point{X: 100, Y: 100}
	tests := []struct {
		name    string
		model   *fakeModel
		tracked *models.Point
		want    Outcome
	}{
		{"no candidates", &fakeModel{}, nil, OutcomeNone},
		{"model error", &fakeModel{err: errors.New("boom")}, nil, OutcomeError},
		{"too small", &fakeModel{candidates: []models.Candidate{face(320, 240, 30, 0.9)}}, nil, OutcomeTooSmall},
		{"too narrow", &fakeModel{candidates: []models.Candidate{{Box: models.BoundingBox{X: 300, Y: 200, Width: 20, Height: 80}}}}, nil, OutcomeTooSmall},
		{"profile view", &fakeModel{candidates: []models.Candidate{frontal(face(320, 240, 60, 0.9), 16)}}, nil, OutcomeNotFrontal},
		{"outside tolerance", &fakeModel{candidates: []models.Candidate{face(400, 300, 60, 0.9)}}, &tracked, OutcomeOutOfTolerance},
		{"fully outside frame", &fakeModel{candidates: []models.Candidate{face(-200, -200, 60, 0.9)}}, nil, OutcomeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := NewAdapter(tt.model).Detect(frame, tt.tracked, trackingConfig())
			assert.Nil(t, got)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestDetectAcceptsFrontalFace(t *testing.T) {
	a := NewAdapter(&fakeModel{candidates: []models.Candidate{frontal(face(320, 240, 60, 0.9), 3)}})
	got, outcome := a.Detect(frame, nil, trackingConfig())
	require.Equal(t, OutcomeDetected, outcome)
	require.NotNil(t, got.Landmarks)
}

func TestDetectClipsToFrame(t *testing.T) {
	a := NewAdapter(&fakeModel{candidates: []models.Candidate{{Box: models.BoundingBox{X: 600, Y: 440, Width: 100, Height: 100}}}})
	got, outcome := a.Detect(frame, nil, trackingConfig())
	require.Equal(t, OutcomeDetected, outcome)
	assert.Equal(t, models.BoundingBox{X: 600, Y: 440, Width: 40, Height: 40}, got.Box)
}

func TestOrientationRatio(t *testing.T) {
	l := models.Landmarks{
		RightEye: models.Point{X: 90, Y: 90},
		LeftEye:  models.Point{X: 110, Y: 90},
		Nose:     models.Point{X: 105, Y: 100},
	}
	assert.InDelta(t, 0.25, OrientationRatio(l), 1e-9)

	l.LeftEye = l.RightEye
	assert.Greater(t, OrientationRatio(l), 0.75)
}
