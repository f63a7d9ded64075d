// Package gate runs backend calls off the frame loop and allows at most one
// match request in flight.
package gate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"facebooth-go/internal/core/imaging"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Backend is the remote similarity service.
type Backend interface {
	GetMatches(ctx context.Context, jpeg []byte, numVids int) (*models.MatchResult, error)
	NotifyNoFace(ctx context.Context) (*models.NoFaceResult, error)
	CreateSpritesheet(ctx context.Context, frames [][]byte, boxes []models.BoundingBox) (string, error)
}

// Completion is the outcome of one backend call, delivered to the frame loop.
type Completion struct {
	Kind        models.RequestKind
	Generation  uint64
	Seq         uint64
	Result      *models.MatchResult  // RequestMatch
	NoFace      *models.NoFaceResult // RequestNoFace
	Spritesheet string               // RequestUpload, or finalised by RequestNoFace
	Err         error
	Duration    time.Duration
}

// Options configures a Gate.
type Options struct {
	Workers          int
	QueueSize        int
	Timeout          time.Duration // per call, 0 means none
	CompletionBuffer int
	DrainTimeout     time.Duration // Close lets queued calls finish for this long
}

// Gate is used from a single goroutine, the frame loop. Only the workers it
// starts run concurrently, and they report back through the completion channel.
type Gate struct {
	backend     Backend
	pool        *WorkerPool
	timeout     time.Duration
	grace       time.Duration
	completions chan Completion
	pending     models.PendingRequest
	nextSeq     uint64
	closed      bool
}

// New creates a Gate with its own worker pool.
func New(backend Backend, opts Options) *Gate {
	if opts.CompletionBuffer < 1 {
		opts.CompletionBuffer = 32
	}
	return &Gate{
		backend:     backend,
		pool:        NewWorkerPool(opts.Workers, opts.QueueSize),
		timeout:     opts.Timeout,
		grace:       opts.DrainTimeout,
		completions: make(chan Completion, opts.CompletionBuffer),
	}
}

// Submit sends crop to the match endpoint unless a match request is still
// awaiting its completion. It never blocks and reports whether a request was
// started.
func (g *Gate) Submit(generation uint64, crop image.Image, numVids int) bool {
	if g.closed || g.pending.Awaiting {
		return false
	}

	seq := g.nextSeq + 1
	err := g.pool.TrySubmit(Task{
		Name: fmt.Sprintf("match #%d", seq),
		Run: func(ctx context.Context) {
			c := Completion{Kind: models.RequestMatch, Generation: generation, Seq: seq}
			start := time.Now()
			defer func() {
				c.Duration = time.Since(start)
				g.post(ctx, c)
			}()

			jpeg, err := imaging.EncodeJPEG(crop)
			if err != nil {
				c.Err = err
				return
			}
			callCtx, cancel := g.callContext(ctx)
			defer cancel()
			c.Result, c.Err = g.backend.GetMatches(callCtx, jpeg, numVids)
		},
	})
	if err != nil {
		log.WithError(err).Warn("Match request not submitted")
		return false
	}

	g.nextSeq = seq
	g.pending = models.PendingRequest{
		Awaiting:      true,
		Seq:           seq,
		Generation:    generation,
		SubmittedFace: crop,
		SubmittedAt:   time.Now(),
	}
	return true
}

// NotifyNoFace tells the backend that the face of generation is gone. It does
// not take part in the match in-flight restriction.
func (g *Gate) NotifyNoFace(generation uint64) bool {
	if g.closed {
		return false
	}
	err := g.pool.TrySubmit(Task{
		Name: "no-face",
		Run: func(ctx context.Context) {
			c := Completion{Kind: models.RequestNoFace, Generation: generation}
			start := time.Now()
			callCtx, cancel := g.callContext(ctx)
			defer cancel()

			c.NoFace, c.Err = g.backend.NotifyNoFace(callCtx)
			if c.NoFace != nil {
				c.Spritesheet = c.NoFace.Spritesheet
			}
			c.Duration = time.Since(start)
			g.post(ctx, c)
		},
	})
	if err != nil {
		log.WithError(err).Warn("No-face notification not submitted")
		return false
	}
	return true
}

// UploadFrames sends buffered crops and their boxes for sprite sheet creation.
// The slices must not be modified afterwards.
func (g *Gate) UploadFrames(generation uint64, frames []image.Image, boxes []models.BoundingBox) bool {
	if g.closed || len(frames) == 0 {
		return false
	}
	err := g.pool.TrySubmit(Task{
		Name: fmt.Sprintf("upload %d frames", len(frames)),
		Run: func(ctx context.Context) {
			c := Completion{Kind: models.RequestUpload, Generation: generation}
			start := time.Now()
			defer func() {
				c.Duration = time.Since(start)
				g.post(ctx, c)
			}()

			encoded := make([][]byte, 0, len(frames))
			for i, f := range frames {
				data, err := imaging.EncodeJPEG(f)
				if err != nil {
					c.Err = fmt.Errorf("frame %d: %w", i, err)
					return
				}
				encoded = append(encoded, data)
			}
			callCtx, cancel := g.callContext(ctx)
			defer cancel()
			c.Spritesheet, c.Err = g.backend.CreateSpritesheet(callCtx, encoded, boxes)
		},
	})
	if err != nil {
		log.WithError(err).Warn("Frame upload not submitted")
		return false
	}
	return true
}

// Drain returns all completions received so far without blocking.
func (g *Gate) Drain() []Completion {
	var out []Completion
	for {
		select {
		case c := <-g.completions:
			out = append(out, c)
		default:
			return out
		}
	}
}

// Resolve clears the in-flight flag if c completes the awaited match request.
// Completions of older requests are ignored.
func (g *Gate) Resolve(c Completion) bool {
	if c.Kind != models.RequestMatch || !g.pending.Awaiting || c.Seq != g.pending.Seq {
		return false
	}
	g.pending = models.PendingRequest{}
	return true
}

// InFlight reports whether a match request is awaiting completion.
func (g *Gate) InFlight() bool {
	return g.pending.Awaiting
}

// Pending returns a copy of the pending request.
func (g *Gate) Pending() models.PendingRequest {
	return g.pending
}

// Pool exposes the worker pool for statistics.
func (g *Gate) Pool() *WorkerPool {
	return g.pool
}

// Close stops accepting requests, gives queued calls up to DrainTimeout to
// finish, then cancels whatever is left and waits for the workers to stop.
func (g *Gate) Close() {
	if g.closed {
		return
	}
	g.closed = true
	g.pool.ShutdownGraceful(g.grace)
}

func (g *Gate) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

// post delivers c unless the pool is shutting down.
func (g *Gate) post(ctx context.Context, c Completion) {
	if c.Err != nil && !errors.Is(c.Err, context.Canceled) {
		log.WithFields(log.Fields{
			"kind":       c.Kind,
			"generation": c.Generation,
			"seq":        c.Seq,
		}).WithError(c.Err).Warn("Backend call failed")
	}
	select {
	case g.completions <- c:
		return
	default:
	}
	select {
	case g.completions <- c:
	case <-ctx.Done():
	}
}
