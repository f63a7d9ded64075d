// Package reset periodically forces the face lifecycle back to "no face" so
// the kiosk does not stay on one visitor's matches forever.
package reset

import (
	"sync"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// idleRecheck is how often a disabled timer looks at the config again.
const idleRecheck = time.Second

// Resetter receives reset requests. The frame loop applies them.
type Resetter interface {
	RequestReset(reason string) bool
}

// Service posts a reset request every update_interval_seconds while
// auto_reset_enabled is set. It never touches lifecycle state itself.
type Service struct {
	cell     *config.Cell
	target   Resetter
	recheck  time.Duration
	stopChan chan struct{}
	done     chan struct{}
	start    sync.Once
	stop     sync.Once
	fired    int
	mu       sync.Mutex
}

// NewService creates the periodic reset service.
func NewService(cell *config.Cell, target Resetter) *Service {
	return &Service{
		cell:     cell,
		target:   target,
		recheck:  idleRecheck,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the timer in a background goroutine.
func (s *Service) Start() {
	s.start.Do(func() {
		log.Info("Starting periodic reset timer")
		go s.loop()
	})
}

// Stop ends the timer. No reset is posted after Stop returns. Calling Stop
// more than once, or without Start, is fine.
func (s *Service) Stop() {
	s.stop.Do(func() {
		close(s.stopChan)
	})
	started := true
	s.start.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
}

// Fired returns the number of reset requests posted so far.
func (s *Service) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Service) loop() {
	defer close(s.done)

	for {
		// The interval is read again every cycle so slider changes apply.
		t := s.cell.Load().Tracking
		wait := s.recheck
		if t.AutoResetEnabled && t.UpdateIntervalSeconds > 0 {
			wait = time.Duration(t.UpdateIntervalSeconds * float64(time.Second))
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stopChan:
			timer.Stop()
			log.Info("Stopping periodic reset timer")
			return
		case <-timer.C:
		}

		if !s.cell.Load().Tracking.AutoResetEnabled {
			continue
		}
		select {
		case <-s.stopChan:
			return
		default:
		}

		if s.target.RequestReset(models.ReasonPeriodic) {
			s.mu.Lock()
			s.fired++
			s.mu.Unlock()
			log.Debug("Periodic reset requested")
		}
	}
}
