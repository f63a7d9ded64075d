package models

import (
	"image"
	"time"
)

// PendingRequest ist die höchstens eine ausstehende Match-Anfrage.
// Eine neue Anfrage darf nur gesendet werden, wenn Awaiting false ist.
type PendingRequest struct {
	Awaiting      bool
	Seq           uint64      // Sequenznummer der Anfrage
	Generation    uint64      // Generation des Gesichts, für das angefragt wurde
	SubmittedFace image.Image // gesendeter Crop
	SubmittedAt   time.Time
}

// RequestKind unterscheidet die Backend-Aufrufe
type RequestKind string

// Arten von Backend-Aufrufen
const (
	RequestMatch  RequestKind = "match"
	RequestNoFace RequestKind = "no_face"
	RequestUpload RequestKind = "upload"
)
