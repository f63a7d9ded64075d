package services

import (
	"context"
	"errors"

	"facebooth-go/internal/core/models"
	"facebooth-go/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// HistoryService schreibt Ereignisse der Frame-Schleife in die Besuchshistorie
type HistoryService struct {
	repo repository.Repository
}

// NewHistoryService erstellt einen neuen HistoryService
func NewHistoryService(repo repository.Repository) *HistoryService {
	return &HistoryService{repo: repo}
}

// HandleEvent implementiert EventHandler
func (s *HistoryService) HandleEvent(ctx context.Context, ev models.Event) {
	var err error
	switch ev.Type {
	case models.EventConfirmed:
		err = s.repo.RecordConfirmed(ctx, ev.SessionID, ev.Generation, ev.Timestamp)
	case models.EventMatchResult:
		err = s.repo.RecordMatch(ctx, ev.SessionID, ev.Generation, ev.Attempt, ev.Match)
	case models.EventMatchFailed:
		err = s.repo.RecordSubmitFailure(ctx, ev.SessionID, ev.Generation, ev.Attempt, ev.Error)
	case models.EventFaceEnded:
		err = s.repo.RecordEnded(ctx, ev.SessionID, ev.Generation, ev.Reason, ev.Timestamp)
	case models.EventSpritesheet:
		err = s.repo.RecordSpritesheet(ctx, ev.SessionID, ev.Generation, ev.Spritesheet)
	default:
		return
	}

	if errors.Is(err, repository.ErrVisitNotFound) {
		log.WithFields(log.Fields{
			"type":       ev.Type,
			"generation": ev.Generation,
		}).Debug("No visit recorded for event")
		return
	}
	if err != nil {
		log.Errorf("Failed to record %s event: %v", ev.Type, err)
	}
}
