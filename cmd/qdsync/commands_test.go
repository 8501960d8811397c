package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/infrastructure/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedRecord(machine string) *domain.Downtime {
	start := time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC)
	return &domain.Downtime{
		MachineID: machine,
		Reason:    "Conveyor stopped",
		Category:  "Mechanical",
		Status:    domain.StatusOpen,
		StartTime: start,
		CreatedAt: start,
	}
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	q, err := queue.NewFileQueueAt(dir, nil)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, queuedRecord("M-4"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, listPending(ctx, &out, q, false))
		assert.Contains(t, out.String(), "M-4")
		assert.Contains(t, out.String(), "2026-03-11 08:30:00")
		assert.Contains(t, out.String(), "unreadable")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, listPending(ctx, &out, q, true))

		var entries []pendingEntry
		require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
		require.Len(t, entries, 2)

		var readable int
		for _, e := range entries {
			if e.Error == "" {
				readable++
				assert.Equal(t, "Conveyor stopped", e.Reason)
			}
		}
		assert.Equal(t, 1, readable)
	})
}

func TestListPending_Empty(t *testing.T) {
	q, err := queue.NewFileQueueAt(t.TempDir(), nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, listPending(context.Background(), &out, q, false))
	assert.Equal(t, "queue is empty\n", out.String())
}

func TestPrintSummary(t *testing.T) {
	summary := &domain.SyncSummary{
		Synced: 2,
		Errors: []domain.SyncError{{File: "a.json", Error: "remote store unavailable"}},
	}

	var out bytes.Buffer
	require.NoError(t, printSummary(&out, summary, false))
	assert.Equal(t, "synced 2, failed 1\n  a.json: remote store unavailable\n", out.String())

	out.Reset()
	require.NoError(t, printSummary(&out, summary, true))
	var decoded domain.SyncSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, *summary, decoded)
}

func TestSyncCommand_MemoryBackend(t *testing.T) {
	dir := t.TempDir()
	q, err := queue.NewFileQueueAt(filepath.Join(dir, "queue"), nil)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), queuedRecord("M-9"))
	require.NoError(t, err)

	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(
		"queue:\n  dir: "+filepath.Join(dir, "queue")+"\nremote_store:\n  backend: memory\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sync", "--config", cfgFile})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		configPath = ""
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "synced 1, failed 0\n", out.String())

	pending, err := q.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
