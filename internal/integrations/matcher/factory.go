// Package matcher talks to the similarity backend that picks the "most
// similar" and "least similar" sprite videos for a face.
package matcher

import (
	"context"
	"fmt"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/gate"

	log "github.com/sirupsen/logrus"
)

// ProviderType definiert den Typ des Matching-Backends
type ProviderType string

const (
	// ProviderHTTP ist das entfernte Node-Backend
	ProviderHTTP ProviderType = "http"
	// ProviderLocal wählt zufällige Sprites aus einem lokalen Verzeichnis
	ProviderLocal ProviderType = "local"
)

// Provider ist ein Matching-Backend
type Provider interface {
	gate.Backend
	GridInfo(ctx context.Context, numVideos int) error
	Name() string
}

// NewProvider erstellt den konfigurierten Provider
func NewProvider(cfg *config.Config) (Provider, error) {
	switch ProviderType(cfg.Backend.Provider) {
	case ProviderHTTP, "":
		log.Infof("Using matching backend at %s", cfg.Backend.URL)
		return NewClient(cfg.Backend), nil
	case ProviderLocal:
		log.Infof("Using local sprite directory %s as matching backend", cfg.Backend.LocalSpriteDir)
		return NewLocalProvider(cfg.Backend.LocalSpriteDir, cfg.Tracking.BufferCols, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Backend.Provider)
	}
}
