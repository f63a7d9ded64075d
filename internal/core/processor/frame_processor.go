// Package processor runs the real-time frame loop: detection, smoothing,
// cropping and the face lifecycle.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/detector"
	"facebooth-go/internal/core/filter"
	"facebooth-go/internal/core/gate"
	"facebooth-go/internal/core/imaging"
	"facebooth-go/internal/core/lifecycle"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// FrameSource liefert Kamerabilder
type FrameSource interface {
	Read(ctx context.Context) (models.Frame, error)
	Close() error
}

// Sink nimmt Ereignisse der Frame-Schleife entgegen. Publish darf nicht blockieren.
type Sink interface {
	Publish(ev models.Event)
}

// Options enthält Einstellungen für den Processor
type Options struct {
	SessionID     string
	FrameInterval time.Duration
	Gate          gate.Options
}

// PoolStats beschreibt die Auslastung des Worker-Pools
type PoolStats struct {
	Workers       int `json:"workers"`
	ActiveJobs    int `json:"active_jobs"`
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`
}

// Status ist ein Schnappschuss des Processors für API und Monitoring
type Status struct {
	SessionID       string                 `json:"session_id"`
	State           string                 `json:"state"`
	Generation      uint64                 `json:"generation"`
	Detections      int                    `json:"detections"`
	Face            *lifecycle.TrackedFace `json:"face,omitempty"`
	Box             *models.BoundingBox    `json:"box,omitempty"` // geglättete Box des letzten Frames
	Stable          bool                   `json:"stable"`
	InFlight        bool                   `json:"in_flight"`
	BufferedFrames  int                    `json:"buffered_frames"`
	ConfigVersion   uint64                 `json:"config_version"`
	LastOutcome     string                 `json:"last_outcome"`
	FramesProcessed uint64                 `json:"frames_processed"`
	FramesSkipped   uint64                 `json:"frames_skipped"`
	Pool            PoolStats              `json:"pool"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Processor verarbeitet die Frames einer Kamera-Session. ProcessFrame und Run
// dürfen nur von einer Goroutine aufgerufen werden; Status und RequestReset
// sind nebenläufig nutzbar.
type Processor struct {
	sessionID     string
	cell          *config.Cell
	adapter       *detector.Adapter
	boxFilter     *filter.BoxFilter
	gate          *gate.Gate
	lifecycle     *lifecycle.Lifecycle
	sink          Sink
	frameInterval time.Duration

	resets        chan string
	centres       []models.Point
	lastBox       *models.BoundingBox
	epoch         time.Time
	filterVersion uint64
	processed     uint64
	skipped       uint64
	lastOutcome   detector.Outcome

	status atomic.Pointer[Status]
}

// New erstellt einen Processor mit eigenem Request-Gate
func New(cell *config.Cell, model detector.Model, backend gate.Backend, sink Sink, opts Options) *Processor {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 10 * time.Millisecond
	}
	snap := cell.Load()
	g := gate.New(backend, opts.Gate)

	p := &Processor{
		sessionID:     opts.SessionID,
		cell:          cell,
		adapter:       detector.NewAdapter(model),
		boxFilter:     filter.NewBoxFilter(filter.ParamsFromConfig(snap.Tracking.Filter)),
		gate:          g,
		lifecycle:     lifecycle.New(opts.SessionID, g),
		sink:          sink,
		frameInterval: opts.FrameInterval,
		resets:        make(chan string, 1),
		filterVersion: snap.Version,
		lastOutcome:   detector.OutcomeNone,
	}
	p.publishStatus(snap)
	return p
}

// ProcessFrame verarbeitet einen einzelnen Frame. Ein ungültiger Frame oder
// ein fehlgeschlagener Crop wird übersprungen, ohne Zustand zu verändern.
func (p *Processor) ProcessFrame(frame models.Frame) error {
	// 1. Konfiguration für diesen Frame festhalten
	snap := p.cell.Load()
	cfg := &snap.Tracking
	if snap.Version != p.filterVersion {
		p.boxFilter.SetParams(filter.ParamsFromConfig(cfg.Filter))
		p.filterVersion = snap.Version
	}

	// 2. Ausstehende Resets anwenden
	p.drainResets(cfg)

	if !frame.Valid() {
		p.skipped++
		p.publishStatus(snap)
		return imaging.ErrEmptyFrame
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	if p.epoch.IsZero() {
		p.epoch = frame.Timestamp
	}

	// 3. Gesicht erkennen
	cand, outcome := p.adapter.Detect(frame.Image, p.lifecycle.TrackedCenter(), cfg)
	p.lastOutcome = outcome

	obs := lifecycle.Observation{
		Timestamp: frame.Timestamp,
		Jumped:    outcome == detector.OutcomeOutOfTolerance,
	}

	// 4. Box glätten und zuschneiden
	if cand != nil {
		saved := p.boxFilter.Save()
		ts := frame.Timestamp.Sub(p.epoch).Seconds()
		c, w, h := p.boxFilter.Filter(cand.Box.Center(), cand.Box.Width*cfg.BBoxMultiplier, cand.Box.Height*cfg.BBoxMultiplier, ts)

		crop, err := imaging.SquareCrop(frame.Image, c, w, h, cfg.CropSize)
		if err != nil {
			p.boxFilter.Restore(saved)
			p.skipped++
			log.WithFields(log.Fields{
				"session": p.sessionID,
				"frame":   frame.Index,
			}).WithError(err).Warn("Skipping frame, face crop failed")
			p.publishStatus(snap)
			return fmt.Errorf("crop frame %d: %w", frame.Index, err)
		}

		box := models.BoxFromCenter(c, w, h)
		p.lastBox = &box
		obs.Detected = true
		obs.Center = cand.Box.Center()
		obs.Box = box
		obs.Crop = crop
	}

	// 5. Lebenszyklus weiterschalten
	res := p.lifecycle.Step(obs, cfg)
	p.apply(res, cfg)

	if obs.Detected {
		p.trackStability(obs.Box.Center(), cfg.StabilityWindow)
	}

	p.processed++
	p.publishStatus(snap)
	return nil
}

// Run verarbeitet Frames im Takt des Frame-Intervalls, bis ctx beendet wird.
// Beim Verlassen wird ein verfolgtes Gesicht beendet und ausstehende
// Backend-Aufrufe werden abgebrochen.
func (p *Processor) Run(ctx context.Context, src FrameSource) error {
	log.WithFields(log.Fields{
		"session":  p.sessionID,
		"interval": p.frameInterval,
	}).Info("Starting frame loop")

	ticker := time.NewTicker(p.frameInterval)
	defer ticker.Stop()
	defer p.Close()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			log.WithField("session", p.sessionID).Info("Frame loop stopped")
			return ctx.Err()
		case <-ticker.C:
			frame, err := src.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					p.shutdown()
					return ctx.Err()
				}
				p.skipped++
				log.WithError(err).Debug("Failed to read frame")
				continue
			}
			if err := p.ProcessFrame(frame); err != nil && !errors.Is(err, imaging.ErrEmptyFrame) {
				log.WithError(err).Debug("Frame skipped")
			}
		}
	}
}

// RequestReset fordert einen Reset an, den die Frame-Schleife beim nächsten
// Frame ausführt. Ist bereits ein Reset angefordert, wird false geliefert.
func (p *Processor) RequestReset(reason string) bool {
	select {
	case p.resets <- reason:
		return true
	default:
		return false
	}
}

// Status liefert den letzten veröffentlichten Zustand
func (p *Processor) Status() Status {
	return *p.status.Load()
}

// State liefert den aktuellen Zustand des Lebenszyklus
func (p *Processor) State() lifecycle.State {
	return p.lifecycle.State()
}

// shutdown beendet ein verfolgtes Gesicht, damit der Besuch abgeschlossen wird
func (p *Processor) shutdown() {
	snap := p.cell.Load()
	p.apply(p.lifecycle.ForceReset(models.ReasonShutdown, &snap.Tracking), &snap.Tracking)
	p.publishStatus(snap)
}

// Close bricht laufende Backend-Aufrufe ab
func (p *Processor) Close() {
	p.gate.Close()
}

func (p *Processor) drainResets(cfg *config.TrackingConfig) {
	for {
		select {
		case reason := <-p.resets:
			log.WithFields(log.Fields{
				"session": p.sessionID,
				"reason":  reason,
			}).Info("Resetting face lifecycle")
			p.apply(p.lifecycle.ForceReset(reason, cfg), cfg)
		default:
			return
		}
	}
}

func (p *Processor) apply(res lifecycle.Result, cfg *config.TrackingConfig) {
	if res.ResetFilter {
		p.boxFilter.Reset()
		p.centres = p.centres[:0]
		p.lastBox = nil
	}
	if res.Changed {
		log.WithFields(log.Fields{
			"session":    p.sessionID,
			"from":       res.Previous,
			"to":         res.State,
			"generation": p.lifecycle.Generation(),
		}).Debug("Face state changed")
	}
	if p.sink == nil {
		return
	}
	for _, ev := range res.Events {
		p.sink.Publish(ev)
	}
}

// trackStability merkt sich die letzten window geglätteten Mittelpunkte
func (p *Processor) trackStability(c models.Point, window int) {
	p.centres = append(p.centres, c)
	if over := len(p.centres) - window; over > 0 {
		p.centres = append(p.centres[:0], p.centres[over:]...)
	}
}

// stable meldet, ob alle Mittelpunkte im Fenster höchstens threshold vom
// Mittelwert entfernt liegen
func stable(centres []models.Point, window int, threshold float64) bool {
	if window < 1 || len(centres) < window {
		return false
	}
	xs := make([]float64, len(centres))
	ys := make([]float64, len(centres))
	for i, c := range centres {
		xs[i], ys[i] = c.X, c.Y
	}
	mean := models.Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
	maxDist := 0.0
	for _, c := range centres {
		maxDist = math.Max(maxDist, c.Distance(mean))
	}
	return maxDist <= threshold
}

func (p *Processor) publishStatus(snap *config.Snapshot) {
	cfg := &snap.Tracking
	pool := p.gate.Pool()
	s := &Status{
		SessionID:       p.sessionID,
		State:           p.lifecycle.State().String(),
		Generation:      p.lifecycle.Generation(),
		Detections:      p.lifecycle.Detections(),
		Stable:          stable(p.centres, cfg.StabilityWindow, cfg.StabilityThresholdPx),
		InFlight:        p.gate.InFlight(),
		BufferedFrames:  p.lifecycle.BufferedFrames(),
		ConfigVersion:   snap.Version,
		LastOutcome:     p.lastOutcome.String(),
		FramesProcessed: p.processed,
		FramesSkipped:   p.skipped,
		Pool: PoolStats{
			Workers:       pool.GetWorkerCount(),
			ActiveJobs:    pool.ActiveJobCount(),
			QueueLength:   pool.QueueLength(),
			QueueCapacity: pool.GetQueueCapacity(),
		},
		UpdatedAt: time.Now(),
	}
	if f, ok := p.lifecycle.Face(); ok {
		s.Face = &f
	}
	if p.lastBox != nil {
		b := *p.lastBox
		s.Box = &b
	}
	p.status.Store(s)
}
