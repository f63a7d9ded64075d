package models

import (
	"image"
	"math"
	"time"
)

// Point ist ein Pixelpunkt im Quellbild
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance liefert den euklidischen Abstand zu q
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// DistanceSq liefert den quadrierten Abstand zu q
func (p Point) DistanceSq(q Point) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// BoundingBox ist ein achsenparalleles Rechteck in Pixelkoordinaten des Frames
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoxFromCenter baut eine Box um den Mittelpunkt c
func BoxFromCenter(c Point, w, h float64) BoundingBox {
	return BoundingBox{X: c.X - w/2, Y: c.Y - h/2, Width: w, Height: h}
}

// Center liefert den Mittelpunkt (x + w/2, y + h/2)
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Empty meldet Boxen ohne Fläche
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Clip beschneidet die Box auf bounds. Negative Werte kommen nicht vor.
func (b BoundingBox) Clip(bounds image.Rectangle) BoundingBox {
	x0 := math.Max(b.X, float64(bounds.Min.X))
	y0 := math.Max(b.Y, float64(bounds.Min.Y))
	x1 := math.Min(b.X+b.Width, float64(bounds.Max.X))
	y1 := math.Min(b.Y+b.Height, float64(bounds.Max.Y))
	if x1 <= x0 || y1 <= y0 {
		return BoundingBox{X: x0, Y: y0}
	}
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Landmarks sind die fünf Gesichtspunkte des Detektors
type Landmarks struct {
	RightEye   Point `json:"right_eye"`
	LeftEye    Point `json:"left_eye"`
	Nose       Point `json:"nose"`
	MouthRight Point `json:"mouth_right"`
	MouthLeft  Point `json:"mouth_left"`
}

// Candidate ist ein einzelnes Detektionsergebnis des Gesichtsmodells
type Candidate struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Landmarks  *Landmarks  `json:"landmarks,omitempty"` // nil, wenn das Modell keine liefert
}

// Frame ist ein Kamerabild mit Aufnahmezeit
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Index     uint64
}

// Valid meldet, ob der Frame ein nicht leeres Bild enthält
func (f Frame) Valid() bool {
	return f.Image != nil && !f.Image.Bounds().Empty()
}

// MatchDescriptor beschreibt einen Treffer des Backends; für den Kern opak
type MatchDescriptor struct {
	Path      string  `json:"path"`
	NumImages int     `json:"numImages"`
	Distance  float64 `json:"distance"`
}

// MatchResult ist die Antwort des Matching-Backends
type MatchResult struct {
	MostSimilar  []MatchDescriptor `json:"mostSimilar"`
	LeastSimilar []MatchDescriptor `json:"leastSimilar"`
}

// NoFaceResult ist die Antwort auf eine "no face"-Meldung
type NoFaceResult struct {
	Success     bool   `json:"success"`
	Spritesheet string `json:"spritesheet,omitempty"` // fertiggestelltes Sprite-Sheet, optional
}
