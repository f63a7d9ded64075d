package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"facebooth-go/internal/core/models"

	"gonum.org/v1/gonum/stat"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrVisitNotFound meldet, dass zu Sitzung und Generation kein Besuch existiert
var ErrVisitNotFound = errors.New("visit not found")

// Repository definiert die Schnittstelle für die Besuchshistorie
type Repository interface {
	RecordConfirmed(ctx context.Context, sessionID string, generation uint64, at time.Time) error
	RecordMatch(ctx context.Context, sessionID string, generation uint64, attempt int, result *models.MatchResult) error
	RecordSubmitFailure(ctx context.Context, sessionID string, generation uint64, attempt int, reason string) error
	RecordEnded(ctx context.Context, sessionID string, generation uint64, reason string, at time.Time) error
	RecordSpritesheet(ctx context.Context, sessionID string, generation uint64, ref string) error

	RecentVisits(ctx context.Context, limit, offset int) ([]models.Visit, int64, error)
	GetStatistics(ctx context.Context) (models.Statistics, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordConfirmed legt einen Besuch für ein bestätigtes Gesicht an
func (r *SQLiteRepository) RecordConfirmed(ctx context.Context, sessionID string, generation uint64, at time.Time) error {
	visit := models.Visit{
		SessionID:   sessionID,
		Generation:  generation,
		ConfirmedAt: at.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&visit).Error; err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

// RecordMatch speichert ein Match-Ergebnis
func (r *SQLiteRepository) RecordMatch(ctx context.Context, sessionID string, generation uint64, attempt int, result *models.MatchResult) error {
	updates := map[string]any{
		"attempts":   attempt,
		"matched":    true,
		"last_error": "",
	}
	if result != nil {
		most, err := json.Marshal(result.MostSimilar)
		if err != nil {
			return fmt.Errorf("failed to encode matches: %w", err)
		}
		least, err := json.Marshal(result.LeastSimilar)
		if err != nil {
			return fmt.Errorf("failed to encode matches: %w", err)
		}
		updates["most_similar"] = datatypes.JSON(most)
		updates["least_similar"] = datatypes.JSON(least)
	}
	return r.update(ctx, sessionID, generation, updates)
}

// RecordSubmitFailure speichert einen fehlgeschlagenen Match-Versuch
func (r *SQLiteRepository) RecordSubmitFailure(ctx context.Context, sessionID string, generation uint64, attempt int, reason string) error {
	return r.update(ctx, sessionID, generation, map[string]any{
		"attempts":   attempt,
		"last_error": reason,
	})
}

// RecordEnded schließt einen Besuch ab
func (r *SQLiteRepository) RecordEnded(ctx context.Context, sessionID string, generation uint64, reason string, at time.Time) error {
	return r.update(ctx, sessionID, generation, map[string]any{
		"ended_at":   at.UTC(),
		"end_reason": reason,
	})
}

// RecordSpritesheet speichert die Referenz des erzeugten Sprite-Sheets
func (r *SQLiteRepository) RecordSpritesheet(ctx context.Context, sessionID string, generation uint64, ref string) error {
	return r.update(ctx, sessionID, generation, map[string]any{"spritesheet": ref})
}

func (r *SQLiteRepository) update(ctx context.Context, sessionID string, generation uint64, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.Visit{}).
		Where("session_id = ? AND generation = ?", sessionID, generation).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update visit %s/%d: %w", sessionID, generation, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%d", ErrVisitNotFound, sessionID, generation)
	}
	return nil
}

// RecentVisits holt Besuche mit Pagination, neueste zuerst
func (r *SQLiteRepository) RecentVisits(ctx context.Context, limit, offset int) ([]models.Visit, int64, error) {
	var visits []models.Visit
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Visit{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	result := db.Order("confirmed_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&visits)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return visits, total, nil
}

// GetStatistics gibt Statistiken über die Besuchshistorie zurück
func (r *SQLiteRepository) GetStatistics(ctx context.Context) (models.Statistics, error) {
	var stats models.Statistics
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Visit{}).Count(&stats.TotalVisits).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Visit{}).Where("matched = ?", true).Count(&stats.MatchedVisits).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Visit{}).Where("ended_at IS NOT NULL AND matched = ?", false).Count(&stats.FailedVisits).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Visit{}).Where("ended_at IS NULL").Count(&stats.ActiveVisits).Error; err != nil {
		return stats, err
	}

	// Verweildauer der abgeschlossenen Besuche
	var ended []models.Visit
	if err := db.Select("confirmed_at", "ended_at").Where("ended_at IS NOT NULL").Find(&ended).Error; err != nil {
		return stats, err
	}
	if len(ended) > 0 {
		dwell := make([]float64, 0, len(ended))
		for _, v := range ended {
			dwell = append(dwell, v.EndedAt.Sub(v.ConfirmedAt).Seconds())
		}
		stats.AverageDwellSeconds = stat.Mean(dwell, nil)
	}

	var latest models.Visit
	err := db.Order("confirmed_at DESC").Limit(1).Find(&latest).Error
	if err != nil {
		return stats, err
	}
	stats.LatestVisit = latest.ConfirmedAt

	return stats, nil
}

// DeleteOlderThan löscht Besuche, die vor cutoff bestätigt wurden
func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("confirmed_at < ?", cutoff.UTC()).
		Delete(&models.Visit{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old visits: %w", result.Error)
	}
	return result.RowsAffected, nil
}
