package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"
	"facebooth-go/internal/db"
	"facebooth-go/internal/db/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecordsVisit(t *testing.T) {
	gdb, err := db.Open(config.DBConfig{File: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	repo := repository.NewSQLiteRepository(gdb)
	h := NewHistoryService(repo)

	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	base := models.Event{SessionID: "booth", Generation: 4, Timestamp: ts}

	events := []models.Event{
		withType(base, models.EventStateChanged),
		withType(base, models.EventConfirmed),
		func() models.Event {
			ev := withType(base, models.EventMatchFailed)
			ev.Attempt, ev.Error = 1, "timeout"
			return ev
		}(),
		func() models.Event {
			ev := withType(base, models.EventMatchResult)
			ev.Attempt = 2
			ev.Match = &models.MatchResult{MostSimilar: []models.MatchDescriptor{{Path: "a"}}}
			return ev
		}(),
		func() models.Event {
			ev := withType(base, models.EventFaceEnded)
			ev.Reason = models.ReasonPeriodic
			ev.Timestamp = ts.Add(time.Minute)
			return ev
		}(),
		func() models.Event {
			ev := withType(base, models.EventSpritesheet)
			ev.Spritesheet = "sheet"
			return ev
		}(),
		// unbekannte Generation wird nur protokolliert
		func() models.Event {
			ev := withType(base, models.EventFaceEnded)
			ev.Generation = 99
			return ev
		}(),
	}
	for _, ev := range events {
		h.HandleEvent(ctx, ev)
	}

	visits, total, err := repo.RecentVisits(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	v := visits[0]
	assert.Equal(t, uint64(4), v.Generation)
	assert.True(t, v.Matched)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, models.ReasonPeriodic, v.EndReason)
	assert.Equal(t, "sheet", v.Spritesheet)
}

func withType(ev models.Event, t models.EventType) models.Event {
	ev.Type = t
	return ev
}
