package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"facebooth-go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (p *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.deleted, p.err
}

func TestRunCleanup(t *testing.T) {
	now := time.Date(2026, 6, 30, 10, 0, 0, 0, time.UTC)
	captures := t.TempDir()

	oldDir := filepath.Join(captures, "old")
	newDir := filepath.Join(captures, "new")
	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "spritesheet"), 0755))
	require.NoError(t, os.MkdirAll(newDir, 0755))
	require.NoError(t, os.Chtimes(oldDir, now.AddDate(0, 0, -40), now.AddDate(0, 0, -40)))
	require.NoError(t, os.Chtimes(newDir, now.AddDate(0, 0, -1), now.AddDate(0, 0, -1)))

	p := &fakePruner{deleted: 3}
	s := NewCleanupService(p, config.CleanupConfig{RetentionDays: 30}, captures)
	s.now = func() time.Time { return now }

	res, err := s.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Visits: 3, Captures: 1}, res)
	require.Len(t, p.cutoffs, 1)
	assert.True(t, p.cutoffs[0].Equal(now.AddDate(0, 0, -30)))

	_, err = os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newDir)
	assert.NoError(t, err)
}

func TestRunCleanupDisabled(t *testing.T) {
	p := &fakePruner{}
	s := NewCleanupService(p, config.CleanupConfig{RetentionDays: 0}, "")
	res, err := s.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Empty(t, p.cutoffs)
}

func TestRunCleanupPrunerError(t *testing.T) {
	p := &fakePruner{err: errors.New("disk full")}
	s := NewCleanupService(p, config.CleanupConfig{RetentionDays: 1}, "")
	_, err := s.RunCleanup(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestMissingCaptureDirIsIgnored(t *testing.T) {
	p := &fakePruner{}
	s := NewCleanupService(p, config.CleanupConfig{RetentionDays: 1}, filepath.Join(t.TempDir(), "missing"))
	res, err := s.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Errors)
}

func TestStartStopsOnCancel(t *testing.T) {
	p := &fakePruner{}
	s := NewCleanupService(p, config.CleanupConfig{RetentionDays: 1, IntervalHours: 1}, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup service did not stop")
	}
	assert.Len(t, p.cutoffs, 1)
}
