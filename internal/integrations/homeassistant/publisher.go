package homeassistant

import (
	"context"
	"time"

	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Topics unterhalb des Präfixes
const (
	TopicState       = "state"
	TopicPresence    = "presence"
	TopicMatches     = "matches"
	TopicVisits      = "visits"
	TopicSpritesheet = "spritesheet"
)

// Nutzdaten des Präsenz-Sensors
const (
	PresenceOn  = "ON"
	PresenceOff = "OFF"
)

// StatePayload wird bei jedem Zustandswechsel veröffentlicht (retained)
type StatePayload struct {
	State      string    `json:"state"`
	Generation uint64    `json:"generation"`
	Caption    string    `json:"caption,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// MatchPayload enthält ein Match-Ergebnis
type MatchPayload struct {
	Generation   uint64                   `json:"generation"`
	Attempt      int                      `json:"attempt"`
	MostSimilar  []models.MatchDescriptor `json:"most_similar"`
	LeastSimilar []models.MatchDescriptor `json:"least_similar"`
	Timestamp    time.Time                `json:"timestamp"`
}

// VisitPayload wird veröffentlicht, wenn ein Gesicht endet
type VisitPayload struct {
	Generation uint64    `json:"generation"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher verwaltet die Veröffentlichung der Kiosk-Ereignisse via MQTT
type Publisher struct {
	pub MessagePublisher
}

// NewPublisher erstellt einen neuen MQTT-Publisher für Home Assistant
func NewPublisher(pub MessagePublisher) *Publisher {
	return &Publisher{pub: pub}
}

// HandleEvent veröffentlicht ein Ereignis der Frame-Schleife
func (p *Publisher) HandleEvent(_ context.Context, ev models.Event) {
	var err error
	switch ev.Type {
	case models.EventStateChanged:
		err = p.publishState(ev)
	case models.EventMatchResult:
		if ev.Match == nil {
			return
		}
		err = p.pub.PublishMessage(p.pub.Topic(TopicMatches), MatchPayload{
			Generation:   ev.Generation,
			Attempt:      ev.Attempt,
			MostSimilar:  ev.Match.MostSimilar,
			LeastSimilar: ev.Match.LeastSimilar,
			Timestamp:    ev.Timestamp,
		}, true)
	case models.EventFaceEnded:
		err = p.pub.PublishMessage(p.pub.Topic(TopicVisits), VisitPayload{
			Generation: ev.Generation,
			Reason:     ev.Reason,
			Attempts:   ev.Attempt,
			Timestamp:  ev.Timestamp,
		}, false)
	case models.EventSpritesheet:
		err = p.pub.PublishMessage(p.pub.Topic(TopicSpritesheet), ev.Spritesheet, false)
	default:
		return
	}
	if err != nil {
		log.Warnf("Failed to publish %s event via MQTT: %v", ev.Type, err)
	}
}

func (p *Publisher) publishState(ev models.Event) error {
	if err := p.pub.PublishMessage(p.pub.Topic(TopicState), StatePayload{
		State:      ev.State,
		Generation: ev.Generation,
		Caption:    ev.Caption,
		Timestamp:  ev.Timestamp,
	}, true); err != nil {
		return err
	}

	presence := PresenceOff
	if ev.State == "confirmed" {
		presence = PresenceOn
	}
	return p.pub.PublishMessage(p.pub.Topic(TopicPresence), presence, true)
}
