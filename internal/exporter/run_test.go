// internal/exporter/run_test.go
package exporter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/backup"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/database"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

func TestRunStopsOnCancel(t *testing.T) {
	start := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	backups := &fakeBackups{backups: []backup.Backup{testBackup("b1", seg(0x10), start)}}
	remote := &fakeRemote{segments: []wal.Segment{seg(0x10)}}
	source := &fakeStatusSource{status: &database.ArchiverStatus{
		LastArchivedWAL:  seg(0x10),
		LastArchivedTime: start,
	}}
	e := newTestExporter(t, dir, backups, remote, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, RunOptions{Interval: time.Hour, WatchDir: dir})
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestForwardWatcherExitsOnCancel(t *testing.T) {
	dir := t.TempDir()
	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()
	require.NoError(t, watcher.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	done := make(chan struct{})
	go func() {
		forwardWatcher(ctx, watcher, events, errs)
		close(done)
	}()

	// Generate an event nobody receives, then cancel: a send stuck on
	// the unbuffered channel must not keep the forwarder alive.
	require.NoError(t, os.WriteFile(filepath.Join(dir, seg(0x10).String()+".done"), nil, 0600))
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("forwarder did not exit after cancellation")
	}
}
