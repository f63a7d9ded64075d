package gate

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

	"facebooth-go/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	matchCalls  atomic.Int32
	noFaceCalls atomic.Int32
	uploadCalls atomic.Int32

	release  chan struct{} // GetMatches blocks until closed, if set
	matchErr error

	mu       sync.Mutex
	lastJPEG []byte
	uploaded int
}

func (b *fakeBackend) GetMatches(ctx context.Context, data []byte, numVids int) (*models.MatchResult, error) {
	b.matchCalls.Add(1)
	b.mu.Lock()
	b.lastJPEG = data
	b.mu.Unlock()
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.matchErr != nil {
		return nil, b.matchErr
	}
	return &models.MatchResult{MostSimilar: []models.MatchDescriptor{{Path: "a.png", NumImages: numVids}}}, nil
}

func (b *fakeBackend) NotifyNoFace(context.Context) (*models.NoFaceResult, error) {
	b.noFaceCalls.Add(1)
	return &models.NoFaceResult{Success: true, Spritesheet: "sheet-1.png"}, nil
}

func (b *fakeBackend) CreateSpritesheet(_ context.Context, frames [][]byte, boxes []models.BoundingBox) (string, error) {
	b.uploadCalls.Add(1)
	b.mu.Lock()
	b.uploaded = len(frames)
	b.mu.Unlock()
	return "sheet-2.png", nil
}

func crop() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 100, 100))
}

func drainUntil(t *testing.T, g *Gate, n int) []Completion {
	t.Helper()
	var got []Completion
	require.Eventually(t, func() bool {
		got = append(got, g.Drain()...)
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestSubmitAtMostOneInFlight(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 5, QueueSize: 10})
	defer g.Close()

	require.True(t, g.Submit(1, crop(), 20))
	assert.True(t, g.InFlight())
	assert.False(t, g.Submit(1, crop(), 20), "second submit must be a no-op")

	require.Eventually(t, func() bool { return backend.matchCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(backend.release)

	got := drainUntil(t, g, 1)
	require.Len(t, got, 1)
	assert.Equal(t, models.RequestMatch, got[0].Kind)
	assert.Equal(t, uint64(1), got[0].Generation)
	require.NoError(t, got[0].Err)
	assert.Equal(t, 20, got[0].Result.MostSimilar[0].NumImages)

	assert.True(t, g.Resolve(got[0]))
	assert.False(t, g.InFlight())
	assert.Equal(t, int32(1), backend.matchCalls.Load())

	backend.mu.Lock()
	_, err := jpeg.Decode(bytes.NewReader(backend.lastJPEG))
	backend.mu.Unlock()
	assert.NoError(t, err, "crop must be sent as JPEG")

	assert.True(t, g.Submit(2, crop(), 20))
}

func TestResolveIgnoresOtherCompletions(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 2, QueueSize: 2})
	defer g.Close()

	require.True(t, g.Submit(1, crop(), 20))
	assert.False(t, g.Resolve(Completion{Kind: models.RequestMatch, Seq: 42}))
	assert.False(t, g.Resolve(Completion{Kind: models.RequestNoFace, Seq: g.Pending().Seq}))
	assert.True(t, g.InFlight())
	close(backend.release)
}

func TestFailureIsReportedWithoutRetry(t *testing.T) {
	backend := &fakeBackend{matchErr: errors.New("backend down")}
	g := New(backend, Options{Workers: 2, QueueSize: 2})
	defer g.Close()

	require.True(t, g.Submit(3, crop(), 20))
	got := drainUntil(t, g, 1)
	assert.EqualError(t, got[0].Err, "backend down")
	assert.True(t, g.Resolve(got[0]))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), backend.matchCalls.Load())
	assert.Empty(t, g.Drain())
}

func TestNoFaceAndUploadRunBesideMatch(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 5, QueueSize: 10})
	defer g.Close()

	require.True(t, g.Submit(1, crop(), 20))
	require.True(t, g.NotifyNoFace(1))
	frames := []image.Image{crop(), crop(), crop(), crop()}
	boxes := make([]models.BoundingBox, len(frames))
	require.True(t, g.UploadFrames(1, frames, boxes))

	got := drainUntil(t, g, 2)
	kinds := map[models.RequestKind]Completion{}
	for _, c := range got {
		kinds[c.Kind] = c
	}
	assert.Equal(t, "sheet-1.png", kinds[models.RequestNoFace].Spritesheet)
	assert.Equal(t, "sheet-2.png", kinds[models.RequestUpload].Spritesheet)
	assert.True(t, g.InFlight(), "match request still awaiting")

	backend.mu.Lock()
	assert.Equal(t, 4, backend.uploaded)
	backend.mu.Unlock()

	assert.False(t, g.UploadFrames(1, nil, nil))
	close(backend.release)
}

func TestFullQueueRejectsSubmit(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 1, QueueSize: 1})
	defer g.Close()

	require.True(t, g.Submit(1, crop(), 20))
	require.Eventually(t, func() bool { return backend.matchCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, g.NotifyNoFace(1), "fills the queue")
	assert.False(t, g.UploadFrames(1, []image.Image{crop()}, []models.BoundingBox{{}}))
	close(backend.release)
}

func TestCloseCancelsInFlightCall(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 1, QueueSize: 1})

	require.True(t, g.Submit(1, crop(), 20))
	require.Eventually(t, func() bool { return backend.matchCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		g.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	g.Close()
	assert.False(t, g.Submit(2, crop(), 20))
	assert.False(t, g.NotifyNoFace(2))
}

type ctxBackend struct {
	fakeBackend
	noFaceErr chan error
}

func (b *ctxBackend) NotifyNoFace(ctx context.Context) (*models.NoFaceResult, error) {
	time.Sleep(20 * time.Millisecond)
	b.noFaceErr <- ctx.Err()
	return b.fakeBackend.NotifyNoFace(ctx)
}

func TestCloseLetsQueuedCallsFinish(t *testing.T) {
	backend := &ctxBackend{noFaceErr: make(chan error, 2)}
	g := New(backend, Options{Workers: 1, QueueSize: 4, DrainTimeout: 2 * time.Second})

	require.True(t, g.NotifyNoFace(1))
	require.True(t, g.NotifyNoFace(1), "queued behind the first call")
	g.Close()

	assert.Equal(t, int32(2), backend.noFaceCalls.Load())
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-backend.noFaceErr)
	}
	assert.False(t, g.NotifyNoFace(2))
}

func TestCloseCancelsAfterDrainTimeout(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 1, QueueSize: 1, DrainTimeout: 30 * time.Millisecond})
	defer close(backend.release)

	require.True(t, g.Submit(1, crop(), 20))
	require.Eventually(t, func() bool { return backend.matchCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	g.Close()
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	got := g.Drain()
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, context.Canceled)
}

func TestTimeoutFailsCall(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	g := New(backend, Options{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond})
	defer g.Close()

	require.True(t, g.Submit(1, crop(), 20))
	got := drainUntil(t, g, 1)
	assert.ErrorIs(t, got[0].Err, context.DeadlineExceeded)
	close(backend.release)
}
