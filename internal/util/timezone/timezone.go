package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize setzt die Zeitzone für Anzeige und Protokolle. Ein leerer Name
// übernimmt die TZ-Umgebungsvariable, sonst gilt UTC.
// Diese Funktion sollte beim Programmstart aufgerufen werden
func Initialize(name string) {
	tzName := name
	if tzName == "" {
		tzName = os.Getenv("TZ")
	}
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		loc = time.UTC
	} else {
		log.Infof("Successfully initialized timezone to %s", tzName)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

// Location liefert die konfigurierte Zeitzone
func Location() *time.Location {
	mu.RLock()
	loc := currentLocation
	mu.RUnlock()
	if loc == nil {
		// Wenn die Zeitzone noch nicht initialisiert wurde, initialisiere sie jetzt
		Initialize("")
		return Location()
	}
	return loc
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(Location())
}

// Format formatiert ein time.Time-Objekt mit der konfigurierten Zeitzone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// RFC3339 formatiert die Zeit im RFC3339-Format mit der konfigurierten Zeitzone
func RFC3339(t time.Time) string {
	return Format(t, time.RFC3339)
}
