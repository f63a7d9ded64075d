// Package lifecycle decides frame by frame whether a face is new, still the
// same, lost or replaced, and when a match request has to be sent.
package lifecycle

import (
	"image"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/gate"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// State of the face lifecycle.
type State int

const (
	NoFace State = iota
	Detecting
	Confirmed
)

func (s State) String() string {
	switch s {
	case NoFace:
		return "no_face"
	case Detecting:
		return "detecting"
	case Confirmed:
		return "confirmed"
	}
	return "unknown"
}

// Requester is the request gate as seen by the lifecycle. *gate.Gate implements it.
type Requester interface {
	Submit(generation uint64, crop image.Image, numVids int) bool
	NotifyNoFace(generation uint64) bool
	UploadFrames(generation uint64, frames []image.Image, boxes []models.BoundingBox) bool
	Drain() []gate.Completion
	Resolve(c gate.Completion) bool
	InFlight() bool
}

// Observation is the outcome of detection and smoothing for one frame.
type Observation struct {
	Detected  bool
	Jumped    bool               // a face was seen, but beyond the jump threshold of the tracked one
	Center    models.Point       // raw detector centre, used for jump detection
	Box       models.BoundingBox // smoothed and expanded box the crop was taken from
	Crop      image.Image
	Timestamp time.Time
}

// TrackedFace is the confirmed face currently followed.
type TrackedFace struct {
	Generation            uint64      `json:"generation"`
	Crop                  image.Image `json:"-"`
	Confirmed             bool        `json:"confirmed"`
	ConsecutiveDetections int         `json:"consecutive_detections"`
	ConsecutiveMisses     int         `json:"consecutive_misses"`
	ConfirmedAt           time.Time   `json:"confirmed_at"`
	Attempts              int         `json:"attempts"`
	Matched               bool        `json:"matched"`
	LastSubmitFailed      bool        `json:"last_submit_failed"`
	SubmitOwed            bool        `json:"submit_owed"` // first request could not be started yet
	Uploaded              bool        `json:"uploaded"`
}

// Result describes what a call to Step or ForceReset changed.
type Result struct {
	Previous    State
	State       State
	Changed     bool
	ResetFilter bool // the box filter must drop its state
	Events      []models.Event
}

// Lifecycle owns the tracked face and the request gate of one camera
// session. All methods must be called from the frame loop.
type Lifecycle struct {
	sessionID  string
	requests   Requester
	state      State
	detections int
	face       *TrackedFace
	prevCenter *models.Point
	generation uint64
	frames     []image.Image
	boxes      []models.BoundingBox
	now        func() time.Time
}

// New creates a Lifecycle in state NoFace.
func New(sessionID string, requests Requester) *Lifecycle {
	return &Lifecycle{
		sessionID: sessionID,
		requests:  requests,
		now:       time.Now,
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// Generation returns the generation of the last confirmed face.
func (l *Lifecycle) Generation() uint64 {
	return l.generation
}

// Detections returns the number of consecutive detections while not confirmed.
func (l *Lifecycle) Detections() int {
	return l.detections
}

// Face returns a copy of the tracked face.
func (l *Lifecycle) Face() (TrackedFace, bool) {
	if l.face == nil {
		return TrackedFace{}, false
	}
	return *l.face, true
}

// TrackedCenter returns the last accepted detection centre, nil if no face
// is being followed.
func (l *Lifecycle) TrackedCenter() *models.Point {
	if l.prevCenter == nil {
		return nil
	}
	c := *l.prevCenter
	return &c
}

// BufferedFrames returns the number of crops kept for the sprite sheet.
func (l *Lifecycle) BufferedFrames() int {
	return len(l.frames)
}

// Step applies pending backend completions and then the observation of one
// frame. It never blocks.
func (l *Lifecycle) Step(obs Observation, cfg *config.TrackingConfig) Result {
	r := Result{Previous: l.state}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = l.now()
	}

	for _, c := range l.requests.Drain() {
		l.requests.Resolve(c)
		l.complete(c, obs.Timestamp, &r)
	}

	switch {
	case obs.Jumped:
		l.onJump(obs.Timestamp, cfg, &r)
	case obs.Detected:
		l.onDetection(obs, cfg, &r)
	default:
		l.onMiss(obs.Timestamp, cfg, &r)
	}

	return l.finish(r, obs.Timestamp)
}

// ForceReset tears down the confirmed face, if any. Used by the periodic
// reset timer and manual resets. A face still being detected keeps its count.
func (l *Lifecycle) ForceReset(reason string, cfg *config.TrackingConfig) Result {
	r := Result{Previous: l.state}
	ts := l.now()
	if l.state == Confirmed {
		l.teardown(reason, ts, cfg, &r)
	}
	return l.finish(r, ts)
}

// onJump ends the followed face at once, as if its miss streak had run out.
// The jumping detection is not counted.
func (l *Lifecycle) onJump(ts time.Time, cfg *config.TrackingConfig, r *Result) {
	log.WithFields(log.Fields{
		"session": l.sessionID,
		"state":   l.state,
	}).Info("Face jumped, treating as a different face")

	switch l.state {
	case Confirmed:
		l.teardown(models.ReasonJump, ts, cfg, r)
	case Detecting:
		l.abandon(r)
	}
}

func (l *Lifecycle) onDetection(obs Observation, cfg *config.TrackingConfig, r *Result) {
	if l.prevCenter != nil {
		if d := obs.Center.Distance(*l.prevCenter); d > float64(cfg.JumpThresholdPx) {
			log.WithField("distance", d).Debug("Detection beyond jump threshold")
			l.onJump(obs.Timestamp, cfg, r)
			return
		}
	}

	center := obs.Center
	l.prevCenter = &center

	if l.state != Confirmed {
		l.detections++
		l.state = Detecting
		if l.detections >= cfg.ConfirmDetectionCount {
			l.confirm(obs, cfg, r)
		}
		return
	}

	f := l.face
	f.ConsecutiveMisses = 0
	f.ConsecutiveDetections++
	l.buffer(obs, cfg)

	switch {
	case f.SubmitOwed:
		if !l.requests.InFlight() {
			l.submit(obs.Crop, cfg)
		}
	case f.LastSubmitFailed && !f.Matched && cfg.RetryOnFailure && f.Attempts < cfg.MaxSubmitAttempts:
		if !l.requests.InFlight() {
			log.WithFields(log.Fields{
				"session":    l.sessionID,
				"generation": f.Generation,
				"attempt":    f.Attempts + 1,
			}).Info("Retrying match request")
			l.submit(obs.Crop, cfg)
		}
	}
}

func (l *Lifecycle) onMiss(ts time.Time, cfg *config.TrackingConfig, r *Result) {
	switch l.state {
	case Detecting:
		l.abandon(r)
	case Confirmed:
		l.face.ConsecutiveMisses++
		if l.face.ConsecutiveMisses >= cfg.LossMissCount {
			l.teardown(models.ReasonLost, ts, cfg, r)
		}
	}
}

func (l *Lifecycle) confirm(obs Observation, cfg *config.TrackingConfig, r *Result) {
	l.generation++
	l.face = &TrackedFace{
		Generation:            l.generation,
		Crop:                  obs.Crop,
		Confirmed:             true,
		ConsecutiveDetections: l.detections,
		ConfirmedAt:           obs.Timestamp,
	}
	l.state = Confirmed
	l.frames, l.boxes = nil, nil
	l.buffer(obs, cfg)

	log.WithFields(log.Fields{
		"session":    l.sessionID,
		"generation": l.generation,
		"detections": l.detections,
	}).Info("Face confirmed")

	r.Events = append(r.Events, l.event(models.EventConfirmed, obs.Timestamp))

	l.face.SubmitOwed = true
	l.submit(obs.Crop, cfg)
}

// submit starts a match request for the tracked face with crop.
func (l *Lifecycle) submit(crop image.Image, cfg *config.TrackingConfig) {
	f := l.face
	if !l.requests.Submit(f.Generation, crop, cfg.NumVids) {
		log.WithField("generation", f.Generation).Debug("Match request deferred, another request is in flight")
		return
	}
	f.SubmitOwed = false
	f.LastSubmitFailed = false
	f.Attempts++
}

func (l *Lifecycle) buffer(obs Observation, cfg *config.TrackingConfig) {
	f := l.face
	if f.Uploaded || obs.Crop == nil {
		return
	}
	capacity := cfg.BufferCap()
	if len(l.frames) < capacity {
		l.frames = append(l.frames, obs.Crop)
		l.boxes = append(l.boxes, obs.Box)
	}
	if len(l.frames) >= capacity {
		l.upload()
	}
}

// upload hands the buffered frames to the gate once per face.
func (l *Lifecycle) upload() {
	if l.requests.UploadFrames(l.face.Generation, l.frames, l.boxes) {
		l.face.Uploaded = true
	}
	l.frames, l.boxes = nil, nil
}

// teardown ends the confirmed face.
func (l *Lifecycle) teardown(reason string, ts time.Time, cfg *config.TrackingConfig, r *Result) {
	f := l.face
	if !f.Uploaded && len(l.frames) > 0 && len(l.frames) >= cfg.MinBufferedFrames {
		l.upload()
	}
	l.frames, l.boxes = nil, nil

	if cfg.NotifyNoFace {
		l.requests.NotifyNoFace(f.Generation)
	}

	log.WithFields(log.Fields{
		"session":    l.sessionID,
		"generation": f.Generation,
		"reason":     reason,
		"matched":    f.Matched,
	}).Info("Face ended")

	ev := l.event(models.EventFaceEnded, ts)
	ev.Reason = reason
	ev.Attempt = f.Attempts
	r.Events = append(r.Events, ev)

	l.face = nil
	l.abandon(r)
}

// abandon drops a face that is not (or no longer) confirmed.
func (l *Lifecycle) abandon(r *Result) {
	l.state = NoFace
	l.detections = 0
	l.prevCenter = nil
	r.ResetFilter = true
}

// complete applies one backend completion. Completions for a face that is no
// longer tracked only clear the in-flight flag (done by the caller).
func (l *Lifecycle) complete(c gate.Completion, ts time.Time, r *Result) {
	switch c.Kind {
	case models.RequestMatch:
		f := l.face
		if f == nil || f.Generation != c.Generation {
			log.WithFields(log.Fields{
				"session":    l.sessionID,
				"generation": c.Generation,
				"seq":        c.Seq,
			}).Debug("Discarding stale match completion")
			return
		}
		ev := l.event(models.EventMatchResult, ts)
		ev.Attempt = f.Attempts
		if c.Err != nil {
			f.LastSubmitFailed = true
			ev.Type = models.EventMatchFailed
			ev.Error = c.Err.Error()
		} else {
			f.Matched = true
			f.LastSubmitFailed = false
			ev.Match = c.Result
		}
		r.Events = append(r.Events, ev)

	case models.RequestNoFace, models.RequestUpload:
		if c.Err != nil || c.Spritesheet == "" {
			return
		}
		ev := l.event(models.EventSpritesheet, ts)
		ev.Generation = c.Generation
		ev.Spritesheet = c.Spritesheet
		r.Events = append(r.Events, ev)
	}
}

func (l *Lifecycle) finish(r Result, ts time.Time) Result {
	r.State = l.state
	r.Changed = r.State != r.Previous
	if r.Changed {
		r.Events = append(r.Events, l.event(models.EventStateChanged, ts))
	}
	return r
}

func (l *Lifecycle) event(t models.EventType, ts time.Time) models.Event {
	gen := l.generation
	if l.face != nil {
		gen = l.face.Generation
	}
	return models.Event{
		Type:       t,
		SessionID:  l.sessionID,
		Generation: gen,
		State:      l.state.String(),
		Timestamp:  ts,
	}
}
