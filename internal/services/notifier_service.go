package services

import (
	"context"
	"sync"
	"sync/atomic"

	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// EventHandler empfängt Ereignisse der Frame-Schleife
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.Event)
}

// EventHandlerFunc macht eine Funktion zum EventHandler
type EventHandlerFunc func(ctx context.Context, ev models.Event)

// HandleEvent ruft f auf
func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev models.Event) {
	f(ctx, ev)
}

// Captioner liefert die Überschrift zu einem Ereignis
type Captioner interface {
	Caption(lang string, ev models.Event) string
}

type subscriber struct {
	name    string
	handler EventHandler
}

// NotifierService verteilt Ereignisse gepuffert an Anzeige, MQTT und Historie.
// Publish blockiert nie; ist der Puffer voll, wird das Ereignis verworfen und gezählt.
type NotifierService struct {
	events      chan models.Event
	subscribers []subscriber
	captioner   Captioner
	lang        string

	dropped   atomic.Uint64
	delivered atomic.Uint64

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewNotifierService erstellt einen Verteiler mit einem Puffer für buffer Ereignisse
func NewNotifierService(buffer int) *NotifierService {
	if buffer < 1 {
		buffer = 1
	}
	return &NotifierService{
		events:   make(chan models.Event, buffer),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetCaptioner setzt Überschriften in der Sprache lang, bevor verteilt wird.
// Muss vor Start aufgerufen werden.
func (s *NotifierService) SetCaptioner(c Captioner, lang string) {
	s.captioner = c
	s.lang = lang
}

// Subscribe registriert einen Empfänger. Muss vor Start aufgerufen werden.
func (s *NotifierService) Subscribe(name string, h EventHandler) {
	s.subscribers = append(s.subscribers, subscriber{name: name, handler: h})
	log.Debugf("Event subscriber registered: %s", name)
}

// Publish stellt ein Ereignis zur Verteilung ein
func (s *NotifierService) Publish(ev models.Event) {
	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		log.WithFields(log.Fields{
			"type":    ev.Type,
			"dropped": n,
		}).Warn("Event buffer full, event dropped")
	}
}

// Start startet die Verteilung in einer eigenen Goroutine
func (s *NotifierService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		log.Infof("Starting event dispatcher with %d subscribers", len(s.subscribers))
		s.started.Store(true)
		go s.loop(ctx)
	})
}

// Stop beendet die Verteilung. Bereits gepufferte Ereignisse werden noch zugestellt.
func (s *NotifierService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	if s.started.Load() {
		<-s.done
		log.Info("Event dispatcher stopped")
	}
}

// Dropped liefert die Anzahl verworfener Ereignisse
func (s *NotifierService) Dropped() uint64 {
	return s.dropped.Load()
}

// Delivered liefert die Anzahl verteilter Ereignisse
func (s *NotifierService) Delivered() uint64 {
	return s.delivered.Load()
}

func (s *NotifierService) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		case <-s.stopChan:
			for {
				select {
				case ev := <-s.events:
					s.dispatch(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (s *NotifierService) dispatch(ctx context.Context, ev models.Event) {
	if ev.Caption == "" && s.captioner != nil {
		ev.Caption = s.captioner.Caption(s.lang, ev)
	}
	for _, sub := range s.subscribers {
		s.deliver(ctx, sub, ev)
	}
	s.delivered.Add(1)
}

func (s *NotifierService) deliver(ctx context.Context, sub subscriber, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Event subscriber %s panicked: %v", sub.name, r)
		}
	}()
	sub.handler.HandleEvent(ctx, ev)
}
