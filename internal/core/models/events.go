package models

import "time"

// EventType beschreibt die Art eines Ereignisses für Anzeige, MQTT und Historie
type EventType string

// Ereignistypen
const (
	EventStateChanged EventType = "state_changed"
	EventConfirmed    EventType = "face_confirmed"
	EventMatchResult  EventType = "match_result"
	EventMatchFailed  EventType = "match_failed"
	EventFaceEnded    EventType = "face_ended"
	EventSpritesheet  EventType = "spritesheet"
)

// Gründe für das Ende eines verfolgten Gesichts
const (
	ReasonLost     = "lost"
	ReasonJump     = "jump"
	ReasonPeriodic = "periodic"
	ReasonManual   = "manual"
	ReasonShutdown = "shutdown"
)

// Event ist ein Ereignis der Frame-Schleife
type Event struct {
	Type        EventType    `json:"type"`
	SessionID   string       `json:"session_id"`
	Generation  uint64       `json:"generation"`
	State       string       `json:"state,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Attempt     int          `json:"attempt,omitempty"`
	Match       *MatchResult `json:"match,omitempty"`
	Spritesheet string       `json:"spritesheet,omitempty"`
	Error       string       `json:"error,omitempty"`
	Caption     string       `json:"caption,omitempty"` // lokalisierte Überschrift, vom Hub gesetzt
	Timestamp   time.Time    `json:"timestamp"`
}
