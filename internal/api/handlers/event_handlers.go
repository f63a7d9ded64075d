package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"facebooth-go/internal/api/middleware"
	"facebooth-go/internal/core/models"
	"facebooth-go/internal/locale"
	"facebooth-go/internal/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// clientBuffer ist die Puffergröße pro SSE-Client
const clientBuffer = 32

// EventHandler streamt die Ereignisse der Frame-Schleife als Server-Sent Events
type EventHandler struct {
	hub        *sse.Hub
	translator *locale.Translator
}

// NewEventHandler erstellt einen neuen Event-Handler
func NewEventHandler(hub *sse.Hub, translator *locale.Translator) *EventHandler {
	return &EventHandler{hub: hub, translator: translator}
}

// RegisterRoutes registriert die Event-Routen
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.handleSSE)
}

// handleSSE hält die Verbindung offen und schreibt jedes Ereignis als data-Zeile
func (h *EventHandler) handleSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		log.Error("Streaming unsupported by the writer")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	client := make(sse.Client, clientBuffer)
	if !h.hub.Register(client) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event stream stopped"})
		return
	}
	defer h.hub.Unregister(client)

	lang := middleware.Language(c)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case message, ok := <-client:
			if !ok {
				log.Debug("SSE client channel closed by hub")
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", h.localize(message, lang)); err != nil {
				log.Debugf("Error writing to SSE client: %v", err)
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			log.Debug("SSE client disconnected")
			return
		}
	}
}

// localize ersetzt die Überschrift, wenn der Client eine andere Sprache wünscht
func (h *EventHandler) localize(message []byte, lang string) []byte {
	if lang == "" || lang == h.translator.DefaultLanguage() {
		return message
	}
	var ev models.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		return message
	}
	ev.Caption = h.translator.Caption(lang, ev)
	data, err := json.Marshal(ev)
	if err != nil {
		return message
	}
	return data
}
