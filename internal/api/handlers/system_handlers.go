package handlers

import (
	"net/http"
	"time"

	"facebooth-go/internal/utils"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// SystemHandler liefert Laufzeit- und Systemstatistiken
type SystemHandler struct {
	booth   Booth
	version string
}

// NewSystemHandler erstellt einen neuen System-Handler
func NewSystemHandler(booth Booth, version string) *SystemHandler {
	return &SystemHandler{booth: booth, version: version}
}

// RegisterRoutes registriert die System-Routen
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/system", h.GetSystemStats)
	router.GET("/health", h.Health)
}

// GetSystemStats liefert CPU-, Speicher- und Worker-Pool-Statistiken
func (h *SystemHandler) GetSystemStats(c *gin.Context) {
	stats := utils.GetSystemStats(h.booth.Status().Pool)
	c.JSON(http.StatusOK, gin.H{
		"version": h.version,
		"uptime":  time.Since(startedAt).Round(time.Second).String(),
		"stats":   stats,
	})
}

// Health meldet, ob die Frame-Schleife in letzter Zeit gearbeitet hat
func (h *SystemHandler) Health(c *gin.Context) {
	st := h.booth.Status()
	if st.UpdatedAt.IsZero() || time.Since(st.UpdatedAt) > 10*time.Second {
		c.JSON(http.StatusServiceUnavailable, gin.H{"healthy": false, "updated_at": st.UpdatedAt})
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": true, "updated_at": st.UpdatedAt})
}
