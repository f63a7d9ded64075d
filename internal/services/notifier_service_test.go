package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"facebooth-go/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) HandleEvent(_ context.Context, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixedCaption string

func (c fixedCaption) Caption(lang string, ev models.Event) string {
	return lang + ":" + string(c)
}

func TestDispatchFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	s := NewNotifierService(10)
	s.Subscribe("a", a)
	s.Subscribe("b", b)
	s.SetCaptioner(fixedCaption("hello"), "en")
	s.Start(context.Background())
	defer s.Stop()

	s.Publish(models.Event{Type: models.EventConfirmed})
	s.Publish(models.Event{Type: models.EventFaceEnded, Caption: "preset"})

	require.Eventually(t, func() bool { return a.len() == 2 && b.len() == 2 }, time.Second, 5*time.Millisecond)
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, "en:hello", a.events[0].Caption)
	assert.Equal(t, "preset", a.events[1].Caption)
	assert.Equal(t, uint64(2), s.Delivered())
}

func TestPublishDropsWhenFull(t *testing.T) {
	s := NewNotifierService(2)
	// nicht gestartet: der Puffer läuft voll
	for i := 0; i < 5; i++ {
		s.Publish(models.Event{Type: models.EventStateChanged})
	}
	assert.Equal(t, uint64(3), s.Dropped())
}

func TestStopDrainsBuffer(t *testing.T) {
	r := &recorder{}
	release := make(chan struct{})
	s := NewNotifierService(10)
	s.Subscribe("slow", EventHandlerFunc(func(context.Context, models.Event) { <-release }))
	s.Subscribe("rec", r)
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		s.Publish(models.Event{Type: models.EventStateChanged})
	}
	close(release)
	s.Stop()
	assert.Equal(t, 3, r.len())
	s.Stop() // idempotent
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	r := &recorder{}
	s := NewNotifierService(4)
	s.Subscribe("bad", EventHandlerFunc(func(context.Context, models.Event) { panic("boom") }))
	s.Subscribe("rec", r)
	s.Start(context.Background())
	defer s.Stop()

	s.Publish(models.Event{Type: models.EventMatchResult})
	require.Eventually(t, func() bool { return r.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopWithoutStart(t *testing.T) {
	s := NewNotifierService(1)
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}
