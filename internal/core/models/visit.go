package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Visit ist ein bestätigtes Gesicht vom Bestätigen bis zum Ende
type Visit struct {
	gorm.Model
	SessionID    string         `gorm:"index;not null"`
	Generation   uint64         `gorm:"index;not null"`
	ConfirmedAt  time.Time      `gorm:"index"`
	EndedAt      *time.Time     `gorm:"index"`
	EndReason    string         `gorm:"index"` // lost, jump, periodic, ...
	Attempts     int            `gorm:"default:0"`
	Matched      bool           `gorm:"index"`
	MostSimilar  datatypes.JSON `gorm:"type:json;null"`
	LeastSimilar datatypes.JSON `gorm:"type:json;null"`
	Spritesheet  string
	LastError    string
}

// Statistics fasst die Besuchshistorie zusammen
type Statistics struct {
	TotalVisits         int64     `json:"total_visits"`
	MatchedVisits       int64     `json:"matched_visits"`
	FailedVisits        int64     `json:"failed_visits"` // beendet ohne Treffer
	ActiveVisits        int64     `json:"active_visits"`
	AverageDwellSeconds float64   `json:"average_dwell_seconds"`
	LatestVisit         time.Time `json:"latest_visit"`
}
