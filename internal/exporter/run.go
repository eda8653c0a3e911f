// internal/exporter/run.go
package exporter

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// minTickGap bounds how often filesystem events may trigger a tick. A
// busy archiver touches archive_status constantly; anything arriving
// inside the gap is coalesced into the tick that already ran.
const minTickGap = 5 * time.Second

// RunOptions configures the trigger loop.
type RunOptions struct {
	// Interval between timer-driven ticks.
	Interval time.Duration
	// WatchDir enables filesystem-notification triggering on the
	// archive_status directory when non-empty.
	WatchDir string
}

// Run drives the tick loop until the context is cancelled. The interval
// timer, filesystem notifications and SIGHUP all funnel into the same
// single-goroutine loop, so ticks are serialized by construction and no
// tick logic depends on which trigger fired.
func (e *Exporter) Run(ctx context.Context, opts RunOptions) error {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	if opts.WatchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			e.logger.Warn("filesystem watcher unavailable, timer only", zap.Error(err))
		} else if err := watcher.Add(opts.WatchDir); err != nil {
			e.logger.Warn("cannot watch archive status directory, timer only",
				zap.String("dir", opts.WatchDir), zap.Error(err))
			_ = watcher.Close()
		} else {
			defer func() { _ = watcher.Close() }()
			fsEvents = make(chan fsnotify.Event)
			fsErrors = make(chan error)
			go forwardWatcher(ctx, watcher, fsEvents, fsErrors)
		}
	}

	e.Tick(ctx)
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			e.Tick(ctx)
			lastTick = time.Now()

		case <-reload:
			e.logger.Info("reload signal received")
			e.Tick(ctx)
			lastTick = time.Now()

		case event := <-fsEvents:
			if !statusFileEvent(event) || time.Since(lastTick) < minTickGap {
				continue
			}
			e.Tick(ctx)
			lastTick = time.Now()

		case err := <-fsErrors:
			e.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

// forwardWatcher relays watcher output to the trigger loop. Sends race
// the loop's exit, so each one also selects on ctx; otherwise a send in
// flight when Run returns would block forever.
func forwardWatcher(ctx context.Context, watcher *fsnotify.Watcher, events chan<- fsnotify.Event, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			select {
			case errs <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}

// statusFileEvent reports whether the event concerns an archive status
// marker rather than an unrelated file in the directory.
func statusFileEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	return strings.HasSuffix(event.Name, ".done") || strings.HasSuffix(event.Name, ".ready")
}
