package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/gate"
	"facebooth-go/internal/core/imaging"
	"facebooth-go/internal/core/lifecycle"
	"facebooth-go/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcModel func(call int) []models.Candidate

type scriptedModel struct {
	mu    sync.Mutex
	calls int
	fn    funcModel
}

func (m *scriptedModel) Detect(image.Image) ([]models.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.fn(m.calls), nil
}

type recordingBackend struct {
	matchCalls  atomic.Int32
	noFaceCalls atomic.Int32
	mu          sync.Mutex
	jpegs       [][]byte
}

func (b *recordingBackend) GetMatches(_ context.Context, data []byte, _ int) (*models.MatchResult, error) {
	b.matchCalls.Add(1)
	b.mu.Lock()
	b.jpegs = append(b.jpegs, data)
	b.mu.Unlock()
	return &models.MatchResult{MostSimilar: []models.MatchDescriptor{{Path: "x.png"}}}, nil
}

func (b *recordingBackend) NotifyNoFace(context.Context) (*models.NoFaceResult, error) {
	b.noFaceCalls.Add(1)
	return &models.NoFaceResult{Success: true}, nil
}

func (b *recordingBackend) CreateSpritesheet(context.Context, [][]byte, []models.BoundingBox) (string, error) {
	return "", nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Publish(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) byType(t models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func trackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		BBoxMultiplier:        1.5,
		JumpThresholdPx:       100,
		MinFaceSizePx:         40,
		ConfirmDetectionCount: 10,
		LossMissCount:         10,
		UpdateIntervalSeconds: 30,
		FrontalThreshold:      0.75,
		SelectionPolicy:       config.SelectCenter,
		CropSize:              100,
		BufferRows:            12,
		BufferCols:            19,
		MinBufferedFrames:     4,
		RetryOnFailure:        true,
		MaxSubmitAttempts:     3,
		NotifyNoFace:          true,
		NumVids:               20,
		StabilityWindow:       10,
		StabilityThresholdPx:  15,
		Filter:                config.FilterConfig{Frequency: 30, MinCutoff: 0.001, Beta: 0.0001, DCutoff: 500},
	}
}

var jitter = []float64{0, 2, -2, 1, -1, 2, 0, -2, 1, -1}

// jitteryFace returns one face near (100,100) with +-2px centre and +-1px size noise.
func jitteryFace(call int) []models.Candidate {
	j := jitter[(call-1)%len(jitter)]
	size := 50.0
	if call%2 == 0 {
		size = 51
	}
	return []models.Candidate{{
		Box:        models.BoxFromCenter(models.Point{X: 100 + j, Y: 100 - j}, size, size),
		Confidence: 0.9,
	}}
}

type fixture struct {
	cell    *config.Cell
	model   *scriptedModel
	backend *recordingBackend
	sink    *recordingSink
	proc    *Processor
	frame   image.Image
	ts      time.Time
	index   uint64
}

func newFixture(t *testing.T, tc config.TrackingConfig, fn funcModel) *fixture {
	f := &fixture{
		cell:    config.NewCell(tc),
		model:   &scriptedModel{fn: fn},
		backend: &recordingBackend{},
		sink:    &recordingSink{},
		frame:   image.NewRGBA(image.Rect(0, 0, 640, 480)),
		ts:      time.Unix(5000, 0),
	}
	f.proc = New(f.cell, f.model, f.backend, f.sink, Options{
		SessionID: "test",
		Gate:      gate.Options{Workers: 5, QueueSize: 10},
	})
	t.Cleanup(f.proc.Close)
	return f
}

func (f *fixture) next() error {
	f.ts = f.ts.Add(33 * time.Millisecond)
	f.index++
	return f.proc.ProcessFrame(models.Frame{Image: f.frame, Timestamp: f.ts, Index: f.index})
}

func TestConfirmedAfterTenthFrameSubmitsOneCrop(t *testing.T) {
	f := newFixture(t, trackingConfig(), jitteryFace)

	for i := 1; i <= 9; i++ {
		require.NoError(t, f.next())
		assert.Equal(t, lifecycle.Detecting, f.proc.State(), "frame %d", i)
	}
	require.NoError(t, f.next())
	assert.Equal(t, lifecycle.Confirmed, f.proc.State())

	box := f.proc.Status().Box
	require.NotNil(t, box)
	assert.InDelta(t, 100, box.Center().X, 3)
	assert.InDelta(t, 100, box.Center().Y, 3)

	require.Eventually(t, func() bool { return f.backend.matchCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.backend.mu.Lock()
	img, err := jpeg.Decode(bytes.NewReader(f.backend.jpegs[0]))
	f.backend.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())

	for i := 0; i < 20; i++ {
		require.NoError(t, f.next())
	}
	assert.Equal(t, int32(1), f.backend.matchCalls.Load())
	require.Eventually(t, func() bool {
		_ = f.next()
		return len(f.sink.byType(models.EventMatchResult)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.backend.matchCalls.Load())
}

func TestSingleMissLossNotifiesBackendOnce(t *testing.T) {
	tc := trackingConfig()
	tc.LossMissCount = 1
	f := newFixture(t, tc, func(call int) []models.Candidate {
		if call <= 10 {
			return jitteryFace(call)
		}
		return nil
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, f.next())
	}
	require.Equal(t, lifecycle.Confirmed, f.proc.State())

	require.NoError(t, f.next())
	assert.Equal(t, lifecycle.NoFace, f.proc.State())

	for i := 0; i < 5; i++ {
		require.NoError(t, f.next())
	}
	require.Eventually(t, func() bool { return f.backend.noFaceCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), f.backend.noFaceCalls.Load())

	ended := f.sink.byType(models.EventFaceEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, models.ReasonLost, ended[0].Reason)
}

func TestJumpEndsConfirmedFaceImmediately(t *testing.T) {
	f := newFixture(t, trackingConfig(), func(call int) []models.Candidate {
		if call <= 10 {
			return jitteryFace(call)
		}
		return []models.Candidate{{
			Box:        models.BoxFromCenter(models.Point{X: 400, Y: 300}, 60, 60),
			Confidence: 0.9,
		}}
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, f.next())
	}
	require.Equal(t, lifecycle.Confirmed, f.proc.State())

	require.NoError(t, f.next())
	assert.Equal(t, lifecycle.NoFace, f.proc.State(), "no miss streak needed")
	ended := f.sink.byType(models.EventFaceEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, models.ReasonJump, ended[0].Reason)
	require.Eventually(t, func() bool { return f.backend.noFaceCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The new face starts its own count on the next frame.
	require.NoError(t, f.next())
	assert.Equal(t, lifecycle.Detecting, f.proc.State())
	assert.Equal(t, 1, f.proc.Status().Detections)
}

func TestFailedCropSkipsFrame(t *testing.T) {
	tc := trackingConfig()
	tc.MinFaceSizePx = 0
	f := newFixture(t, tc, func(int) []models.Candidate {
		return []models.Candidate{{Box: models.BoundingBox{X: 320, Y: 240, Width: 0.2, Height: 0.2}}}
	})

	err := f.next()
	assert.ErrorIs(t, err, imaging.ErrEmptyCrop)
	assert.Equal(t, lifecycle.NoFace, f.proc.State())

	st := f.proc.Status()
	assert.Equal(t, 0, st.Detections)
	assert.Equal(t, uint64(1), st.FramesSkipped)
	assert.Equal(t, uint64(0), st.FramesProcessed)
}

func TestInvalidFrameIsSkipped(t *testing.T) {
	f := newFixture(t, trackingConfig(), jitteryFace)
	err := f.proc.ProcessFrame(models.Frame{})
	assert.ErrorIs(t, err, imaging.ErrEmptyFrame)
	assert.Equal(t, 0, f.model.calls)
	assert.Equal(t, uint64(1), f.proc.Status().FramesSkipped)
}

func TestRequestResetTearsDownFace(t *testing.T) {
	f := newFixture(t, trackingConfig(), jitteryFace)
	for i := 0; i < 10; i++ {
		require.NoError(t, f.next())
	}
	require.Equal(t, lifecycle.Confirmed, f.proc.State())

	assert.True(t, f.proc.RequestReset(models.ReasonManual))
	assert.False(t, f.proc.RequestReset(models.ReasonManual), "one reset already pending")

	require.NoError(t, f.next())
	assert.Equal(t, lifecycle.Detecting, f.proc.State(), "reset, then the same face is counted again")
	assert.Equal(t, 1, f.proc.Status().Detections)

	ended := f.sink.byType(models.EventFaceEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, models.ReasonManual, ended[0].Reason)
}

func TestStabilityWindow(t *testing.T) {
	f := newFixture(t, trackingConfig(), func(int) []models.Candidate {
		return []models.Candidate{{Box: models.BoxFromCenter(models.Point{X: 320, Y: 240}, 60, 60)}}
	})
	for i := 0; i < 9; i++ {
		require.NoError(t, f.next())
	}
	assert.False(t, f.proc.Status().Stable)
	require.NoError(t, f.next())
	assert.True(t, f.proc.Status().Stable)
}

func TestStable(t *testing.T) {
	still := []models.Point{{X: 10, Y: 10}, {X: 11, Y: 10}, {X: 10, Y: 12}}
	moving := []models.Point{{X: 10, Y: 10}, {X: 40, Y: 10}, {X: 70, Y: 10}}

	assert.True(t, stable(still, 3, 5))
	assert.False(t, stable(still, 4, 5), "window not full")
	assert.False(t, stable(moving, 3, 5))
	assert.False(t, stable(nil, 0, 5))
}

func TestConfigUpdateAppliesOnNextFrame(t *testing.T) {
	f := newFixture(t, trackingConfig(), jitteryFace)
	require.NoError(t, f.next())
	assert.Equal(t, uint64(1), f.proc.Status().ConfigVersion)

	_, err := f.cell.Update(func(c *config.TrackingConfig) { c.ConfirmDetectionCount = 2 })
	require.NoError(t, err)

	require.NoError(t, f.next())
	assert.Equal(t, uint64(2), f.proc.Status().ConfigVersion)
	assert.Equal(t, lifecycle.Confirmed, f.proc.State())
}

type loopSource struct {
	frame image.Image
	n     atomic.Uint64
}

func (s *loopSource) Read(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	return models.Frame{Image: s.frame, Timestamp: time.Now(), Index: s.n.Add(1)}, nil
}

func (s *loopSource) Close() error { return nil }

func TestRunStopsOnCancel(t *testing.T) {
	cell := config.NewCell(trackingConfig())
	backend := &recordingBackend{}
	p := New(cell, &scriptedModel{fn: jitteryFace}, backend, nil, Options{
		SessionID:     "run",
		FrameInterval: time.Millisecond,
		Gate:          gate.Options{Workers: 2, QueueSize: 4},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx, &loopSource{frame: image.NewRGBA(image.Rect(0, 0, 640, 480))})
	}()

	require.Eventually(t, func() bool {
		return p.Status().State == lifecycle.Confirmed.String()
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return backend.matchCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, int32(1), backend.matchCalls.Load())
}

func TestRunEndsTrackedFaceOnShutdown(t *testing.T) {
	cell := config.NewCell(trackingConfig())
	sink := &recordingSink{}
	p := New(cell, &scriptedModel{fn: jitteryFace}, &recordingBackend{}, sink, Options{
		SessionID:     "shutdown",
		FrameInterval: time.Millisecond,
		Gate:          gate.Options{Workers: 2, QueueSize: 4},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx, &loopSource{frame: image.NewRGBA(image.Rect(0, 0, 640, 480))})
	}()

	require.Eventually(t, func() bool {
		return p.Status().State == lifecycle.Confirmed.String()
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	ended := sink.byType(models.EventFaceEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, models.ReasonShutdown, ended[0].Reason)
	assert.Equal(t, lifecycle.NoFace.String(), p.Status().State)
}
