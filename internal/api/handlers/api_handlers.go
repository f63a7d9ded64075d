package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"facebooth-go/config"
	"facebooth-go/internal/api/middleware"
	"facebooth-go/internal/core/models"
	"facebooth-go/internal/core/processor"
	"facebooth-go/internal/db/repository"
	"facebooth-go/internal/locale"
	"facebooth-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	maxVisitsPerPage = 100
	maxConfigBody    = 64 << 10
)

// Booth ist die laufende Frame-Schleife, wie die API sie sieht
type Booth interface {
	Status() processor.Status
	RequestReset(reason string) bool
}

// EventStats liefert die Zähler des Ereignisverteilers
type EventStats interface {
	Delivered() uint64
	Dropped() uint64
}

// APIHandler behandelt API-Anfragen für den Kiosk
type APIHandler struct {
	cell       *config.Cell
	booth      Booth
	repo       repository.Repository
	translator *locale.Translator
	events     EventStats
}

// VisitResponse ist ein Besuch in der API-Darstellung
type VisitResponse struct {
	ID           uint            `json:"id"`
	Generation   uint64          `json:"generation"`
	ConfirmedAt  string          `json:"confirmed_at"`
	EndedAt      string          `json:"ended_at,omitempty"`
	EndReason    string          `json:"end_reason,omitempty"`
	Attempts     int             `json:"attempts"`
	Matched      bool            `json:"matched"`
	MostSimilar  json.RawMessage `json:"most_similar,omitempty"`
	LeastSimilar json.RawMessage `json:"least_similar,omitempty"`
	Spritesheet  string          `json:"spritesheet,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cell *config.Cell, booth Booth, repo repository.Repository, translator *locale.Translator, events EventStats) *APIHandler {
	return &APIHandler{
		cell:       cell,
		booth:      booth,
		repo:       repo,
		translator: translator,
		events:     events,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)
	router.GET("/config", h.GetConfig)
	router.PUT("/config", h.UpdateConfig)
	router.POST("/reset", h.Reset)
	router.GET("/visits", h.ListVisits)
	router.GET("/captions", h.GetCaptions)
}

// GetStatus liefert Zustand, Historie und Verteiler-Zähler
func (h *APIHandler) GetStatus(c *gin.Context) {
	st := h.booth.Status()
	lang := middleware.Language(c)

	resp := gin.H{
		"status":   st,
		"language": lang,
		"caption":  h.translator.Caption(lang, models.Event{Type: models.EventStateChanged, State: st.State}),
		"events": gin.H{
			"delivered": h.events.Delivered(),
			"dropped":   h.events.Dropped(),
		},
	}

	stats, err := h.repo.GetStatistics(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to load visit statistics: %v", err)
	} else {
		resp["visits"] = stats
	}

	c.JSON(http.StatusOK, resp)
}

// GetConfig liefert den aktuellen Tracking-Snapshot
func (h *APIHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.cell.Load())
}

// UpdateConfig übernimmt einzelne Tracking-Werte als neuen Snapshot.
// Nicht angegebene Felder behalten ihren Wert.
func (h *APIHandler) UpdateConfig(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxConfigBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	var decodeErr error
	snap, err := h.cell.Apply(func(t *config.TrackingConfig) error {
		decodeErr = json.Unmarshal(body, t)
		return decodeErr
	})
	switch {
	case decodeErr != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: " + decodeErr.Error()})
		return
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "config": snap})
		return
	}

	log.WithField("version", snap.Version).Info("Tracking configuration updated via API")
	c.JSON(http.StatusOK, snap)
}

// Reset beendet das aktuell verfolgte Gesicht
func (h *APIHandler) Reset(c *gin.Context) {
	if !h.booth.RequestReset(models.ReasonManual) {
		c.JSON(http.StatusConflict, gin.H{"error": "Reset already pending"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// ListVisits listet Besuche mit Pagination
func (h *APIHandler) ListVisits(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	if limit > maxVisitsPerPage {
		limit = maxVisitsPerPage
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	visits, total, err := h.repo.RecentVisits(c.Request.Context(), limit, offset)
	if err != nil {
		log.Errorf("Failed to list visits: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list visits"})
		return
	}

	out := make([]VisitResponse, 0, len(visits))
	for _, v := range visits {
		out = append(out, toVisitResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{
		"visits": out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetCaptions liefert alle Überschriften in der Sprache der Anfrage
func (h *APIHandler) GetCaptions(c *gin.Context) {
	lang := middleware.Language(c)
	c.JSON(http.StatusOK, gin.H{
		"language":  lang,
		"languages": h.translator.Languages(),
		"captions":  h.translator.Captions(lang),
	})
}

func toVisitResponse(v models.Visit) VisitResponse {
	r := VisitResponse{
		ID:           v.ID,
		Generation:   v.Generation,
		ConfirmedAt:  timezone.RFC3339(v.ConfirmedAt),
		EndReason:    v.EndReason,
		Attempts:     v.Attempts,
		Matched:      v.Matched,
		MostSimilar:  json.RawMessage(v.MostSimilar),
		LeastSimilar: json.RawMessage(v.LeastSimilar),
		Spritesheet:  v.Spritesheet,
		LastError:    v.LastError,
	}
	if v.EndedAt != nil {
		r.EndedAt = timezone.RFC3339(*v.EndedAt)
	}
	return r
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("not a number")
	}
	return n, nil
}
