package sse

import (
	"context"
	"encoding/json"
	"sync"

	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Client repräsentiert einen einzelnen verbundenen SSE-Client
type Client chan []byte

// Hub verwaltet die Menge der aktiven Clients und sendet Broadcasts an sie
type Hub struct {
	// Registrierte Clients
	clients map[Client]bool

	// Eingehende Nachrichten von der Anwendung
	broadcast chan []byte

	register   chan Client
	unregister chan Client

	// Geschlossen, sobald Run beendet ist
	done chan struct{}

	// Mutex zum Schutz des simultanen Zugriffs auf die Clients-Map
	mu sync.Mutex
}

// NewHub erstellt eine neue Hub-Instanz
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100), // Puffer für 100 Nachrichten
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
		done:       make(chan struct{}),
	}
}

// Run startet die Verarbeitungsschleife des Hubs bis ctx beendet wird.
// Dies sollte in einer separaten Goroutine ausgeführt werden
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE Hub started and running")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting message to %d SSE clients", len(h.clients))
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Langsame Clients verlieren die Nachricht, der Hub blockiert nie
					log.Warn("SSE client channel full, message skipped for this client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register registriert einen neuen Client am Hub. Liefert false, wenn der
// Hub bereits gestoppt ist.
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister meldet einen Client vom Hub ab
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount liefert die Anzahl der verbundenen Clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sendet eine Nachricht an alle registrierten Clients
func (h *Hub) Broadcast(message []byte) {
	// Blockieren vermeiden, wenn der Broadcast-Kanal voll ist
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastEvent serialisiert ein Ereignis der Frame-Schleife und sendet es
func (h *Hub) BroadcastEvent(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("Failed to marshal event for SSE: %v", err)
		return
	}
	h.Broadcast(data)
}
