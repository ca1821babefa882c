package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestShowCmd(t *testing.T) {
	dir := t.TempDir()
	store, err := webhooklog.NewStore(dir)
	require.NoError(t, err)
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(webhooklog.Record{CorrelationID: "wh_a", Direction: webhooklog.DirectionReceived, Timestamp: day}))
	require.NoError(t, store.Append(webhooklog.Record{CorrelationID: "wh_b", Direction: webhooklog.DirectionReceived, Timestamp: day}))

	out, err := run(t, "show", "--dir", dir, "--date", "2024-03-01")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = run(t, "show", "--dir", dir, "--date", "2024-03-01", "--correlation-id", "wh_b")
	require.NoError(t, err)
	assert.Contains(t, out, "wh_b")
	assert.NotContains(t, out, "wh_a")

	_, err = run(t, "show", "--dir", dir, "--date", "March")
	assert.Error(t, err)
}

func TestCleanupCmd(t *testing.T) {
	dir := t.TempDir()
	store, err := webhooklog.NewStore(dir)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.Append(webhooklog.Record{CorrelationID: "old", Timestamp: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.Append(webhooklog.Record{CorrelationID: "new", Timestamp: now}))

	out, err := run(t, "cleanup", "--dir", dir, "--retention-days", "30", "--archive=false")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = run(t, "partitions", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, now.Format("2006-01-02"))
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}
