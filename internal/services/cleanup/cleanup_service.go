package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// VisitPruner löscht alte Besuche
type VisitPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result fasst einen Bereinigungslauf zusammen
type Result struct {
	Visits   int64
	Captures int
	Errors   int
}

// CleanupService ist verantwortlich für die automatische Bereinigung alter Daten
type CleanupService struct {
	visits        VisitPruner
	config        config.CleanupConfig
	captureDir    string // lokal erzeugte Sprite-Sheets, leer = keine
	checkInterval time.Duration
	now           func() time.Time
}

// NewCleanupService erstellt einen neuen Cleanup-Service
func NewCleanupService(visits VisitPruner, cfg config.CleanupConfig, captureDir string) *CleanupService {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour // Standardmäßig einmal täglich prüfen
	}
	return &CleanupService{
		visits:        visits,
		config:        cfg,
		captureDir:    captureDir,
		checkInterval: interval,
		now:           time.Now,
	}
}

// Start führt die Bereinigung sofort und danach periodisch aus, bis ctx endet.
// Blockiert; im Hintergrund als Goroutine starten.
func (s *CleanupService) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	// Sofort eine erste Bereinigung durchführen
	if _, err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	// Ticker für regelmäßige Bereinigung einrichten
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if _, err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup führt die eigentliche Bereinigung durch
func (s *CleanupService) RunCleanup(ctx context.Context) (Result, error) {
	var res Result
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return res, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	log.Infof("Cleaning up data older than %s", timezone.Format(cutoff, "2006-01-02 15:04"))

	// 1. Alte Besuche löschen
	n, err := s.visits.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to delete old visits: %w", err)
	}
	res.Visits = n

	// 2. Alte lokal erzeugte Sprite-Sheets löschen
	if s.captureDir != "" {
		res.Captures, res.Errors = s.removeCaptures(cutoff)
	}

	log.Infof("Cleanup completed: deleted %d visits and %d captures, encountered %d errors",
		res.Visits, res.Captures, res.Errors)
	return res, nil
}

func (s *CleanupService) removeCaptures(cutoff time.Time) (removed, errorCount int) {
	entries, err := os.ReadDir(s.captureDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Failed to read capture directory %s: %v", s.captureDir, err)
			errorCount++
		}
		return 0, errorCount
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.captureDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warnf("Failed to delete capture %s: %v", path, err)
			errorCount++
			continue
		}
		removed++
	}
	return removed, errorCount
}
