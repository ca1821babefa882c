package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

type countingArchiver struct {
	paths []string
}

func (a *countingArchiver) ArchivePartition(_ context.Context, path string, _ time.Time) error {
	a.paths = append(a.paths, path)
	return nil
}

func newSeededStore(t *testing.T, now time.Time, ages ...int) *webhooklog.Store {
	t.Helper()
	store, err := webhooklog.NewStore(t.TempDir())
	require.NoError(t, err)
	for _, age := range ages {
		require.NoError(t, store.Append(webhooklog.Record{CorrelationID: "seed", Timestamp: now.AddDate(0, 0, -age)}))
	}
	return store
}

func TestManager_RunCleanupOnce(t *testing.T) {
	now := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	store := newSeededStore(t, now, 0, 10, 29, 31, 60)
	archiver := &countingArchiver{}

	m := NewManager(store, Config{Archiver: archiver, Now: func() time.Time { return now }})
	removed, err := m.RunCleanupOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Len(t, archiver.paths, 2)

	parts, err := store.Partitions()
	require.NoError(t, err)
	assert.Len(t, parts, 3)
}

func TestManager_StartRunsInitialCleanup(t *testing.T) {
	now := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	store := newSeededStore(t, now, 0, 45)

	m := NewManager(store, Config{CleanupInterval: time.Hour, Now: func() time.Time { return now }})
	assert.False(t, m.IsRunning())

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())

	assert.Eventually(t, func() bool {
		parts, err := store.Partitions()
		return err == nil && len(parts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop()

	// Restartable.
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(nil, Config{})
	assert.Equal(t, webhooklog.DefaultRetentionDays, m.cfg.RetentionDays)
	assert.Equal(t, DefaultCleanupInterval, m.cfg.CleanupInterval)
	assert.NotNil(t, m.cfg.Now)
}
