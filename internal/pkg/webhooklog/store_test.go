package webhooklog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndQuery(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	day := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	require.NoError(t, store.Append(Record{CorrelationID: "wh_1", Direction: DirectionReceived, Timestamp: day}))
	require.NoError(t, store.Append(Record{CorrelationID: "wh_1", Direction: DirectionResponse, StatusCode: 200, Timestamp: day.Add(time.Second)}))
	// Next UTC day goes to its own partition.
	require.NoError(t, store.Append(Record{CorrelationID: "wh_2", Direction: DirectionReceived, Timestamp: day.Add(time.Hour)}))

	records, err := store.Query(day)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, DirectionReceived, records[0].Direction)
	assert.Equal(t, DirectionResponse, records[1].Direction)
	assert.Equal(t, 200, records[1].StatusCode)

	records, err = store.Query(day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "wh_2", records[0].CorrelationID)

	assert.FileExists(t, filepath.Join(store.Dir(), "webhooks-2024-03-01.log"))
	assert.FileExists(t, filepath.Join(store.Dir(), "webhooks-2024-03-02.log"))
}

func TestStore_QueryMissingDay(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	records, err := store.Query(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestStore_QuerySkipsMalformedLines(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(Record{CorrelationID: "wh_1", Timestamp: day}))
	f, err := os.OpenFile(store.PartitionPath(day), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n\n")
	require.NoError(t, f.Close())
	require.NoError(t, store.Append(Record{CorrelationID: "wh_2", Timestamp: day}))

	records, err := store.Query(day)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "wh_2", records[1].CorrelationID)
}

func TestNewStore_RequiresDir(t *testing.T) {
	_, err := NewStore(" ")
	assert.Error(t, err)
}

type recordingArchiver struct {
	days []string
	fail map[string]bool
}

func (a *recordingArchiver) ArchivePartition(_ context.Context, path string, day time.Time) error {
	name := day.Format(dayLayout)
	if a.fail[name] {
		return errors.New("upload failed")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	a.days = append(a.days, name)
	return nil
}

func seedPartitions(t *testing.T, store *Store, days ...time.Time) {
	t.Helper()
	for _, d := range days {
		require.NoError(t, store.Append(Record{CorrelationID: "seed", Timestamp: d}))
	}
}

func TestStore_Cleanup(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -45)
	boundary := now.AddDate(0, 0, -30)
	recent := now.AddDate(0, 0, -3)
	seedPartitions(t, store, old, now.AddDate(0, 0, -31), boundary, recent, now)

	// Unrelated files are left alone.
	other := filepath.Join(store.Dir(), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	removed, err := store.Cleanup(context.Background(), now, DefaultRetentionDays, nil)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.NoFileExists(t, store.PartitionPath(old))
	assert.NoFileExists(t, store.PartitionPath(now.AddDate(0, 0, -31)))
	assert.FileExists(t, store.PartitionPath(boundary))
	assert.FileExists(t, store.PartitionPath(recent))
	assert.FileExists(t, store.PartitionPath(now))
	assert.FileExists(t, other)

	parts, err := store.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.True(t, parts[0].Day.Before(parts[1].Day))
	assert.Greater(t, parts[0].Size, int64(0))
}

func TestStore_CleanupArchivesBeforeDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	a := now.AddDate(0, 0, -40)
	b := now.AddDate(0, 0, -35)
	seedPartitions(t, store, a, b, now)

	archiver := &recordingArchiver{fail: map[string]bool{b.Format(dayLayout): true}}
	removed, err := store.Cleanup(context.Background(), now, 30, archiver)
	require.Error(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, []string{a.Format(dayLayout)}, archiver.days)
	assert.NoFileExists(t, store.PartitionPath(a))
	assert.FileExists(t, store.PartitionPath(b), "partition stays when archiving failed")
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseDay("03/01/2024")
	assert.Error(t, err)

	today, err := ParseDay("")
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format(dayLayout), today.Format(dayLayout))
}
