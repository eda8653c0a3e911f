// internal/exporter/exporter.go
package exporter

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/archive"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/backup"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/database"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// fusePath is the sentinel file a wrapper script drops when archiving
// is known broken; its presence burns the backup fuse gauge.
const fusePath = "/tmp/failed_pg_archive"

// BackupLister fetches the retained base backups.
type BackupLister interface {
	List(ctx context.Context) ([]backup.Backup, error)
}

// RemoteLister lists archived segments in the object store and checks
// individual presence for reconciliation.
type RemoteLister interface {
	ListSegments(ctx context.Context) ([]wal.Segment, error)
	Contains(ctx context.Context, segment wal.Segment) (bool, error)
}

// Exporter owns the archive state and runs the refresh-and-recompute
// tick. Exactly one tick runs at a time; the published snapshot is the
// only thing the scrape path reads.
type Exporter struct {
	state      *archive.State
	reconciler *archive.Reconciler
	backups    BackupLister
	remote     RemoteLister
	metrics    *metrics
	logger     *zap.Logger
	fusePath   string

	mu   sync.RWMutex
	snap snapshot
}

// New creates an Exporter around an existing State and its
// collaborators.
func New(state *archive.State, backups BackupLister, remote RemoteLister, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		state:      state,
		reconciler: archive.NewReconciler(remote, logger),
		backups:    backups,
		remote:     remote,
		logger:     logger,
		fusePath:   fusePath,
	}
	e.metrics = newMetrics(e.readSnapshot)
	return e
}

func (e *Exporter) readSnapshot() snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Tick runs one full refresh-and-recompute pass. Collaborator failures
// are isolated: each failing source sets its flag and the tick carries
// on with the others, keeping last-known values.
func (e *Exporter) Tick(ctx context.Context) {
	tickID := uuid.NewString()[:8]
	started := time.Now()
	log := e.logger.With(zap.String("tick", tickID))

	// Flags describe this tick only. They are cleared up front and
	// collaborators may only set them: the wal-g command and the S3
	// lister share RemoteListFailed, so a later success must not wipe
	// a bit an earlier failure raised.
	e.state.Flags = archive.Flags{}

	e.refreshBackups(ctx, log)
	e.scanLocal(log)
	status := e.refreshArchiver(ctx, log)
	e.reconcileRemote(ctx, status, log)

	report := archive.Analyze(e.state.Backups, e.state.Done)
	e.publish(report)

	log.Info("tick complete",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("backups", len(e.state.Backups)),
		zap.Int("done_segments", e.state.Done.Len()),
		zap.Int("ready_segments", e.state.Ready.Len()),
		zap.Int("missing_segments", report.MissingSegments),
		zap.Int("exception", e.state.Flags.Status()))
}

func (e *Exporter) refreshBackups(ctx context.Context, log *zap.Logger) {
	current, err := e.backups.List(ctx)
	if err != nil {
		if errors.Is(err, backup.ErrBadListing) {
			// The command ran but produced garbage: the listing is
			// broken, not the remote.
			e.state.Flags.BackupListFailed = true
		} else {
			e.state.Flags.RemoteListFailed = true
		}
		log.Error("backup list refresh failed", zap.Error(err))
		return
	}
	e.metrics.updateBackups(e.state.Backups, current)
	e.state.Backups = current
}

func (e *Exporter) scanLocal(log *zap.Logger) {
	if _, _, err := e.state.ScanStatusDir(); err != nil {
		e.state.Flags.ArchiveScanFailed = true
		log.Error("archive status scan failed", zap.Error(err))
	}
}

func (e *Exporter) refreshArchiver(ctx context.Context, log *zap.Logger) *database.ArchiverStatus {
	status, err := e.state.RefreshArchiverStatus(ctx)
	if err != nil {
		e.state.Flags.ArchiveScanFailed = true
		log.Error("archiver status refresh failed", zap.Error(err))
	}
	if status == nil {
		return nil
	}
	e.metrics.setLastXlogUpload(float64(status.LastArchivedTime.Unix()))
	return status
}

func (e *Exporter) reconcileRemote(ctx context.Context, status *database.ArchiverStatus, log *zap.Logger) {
	if status != nil {
		if _, err := e.reconciler.Extend(ctx, e.state.Done, status); err != nil {
			e.state.Flags.RemoteListFailed = true
			log.Error("done-set extension failed", zap.Error(err))
			return
		}
	}

	segments, err := e.remote.ListSegments(ctx)
	if err != nil {
		e.state.Flags.RemoteListFailed = true
		log.Error("remote segment listing failed", zap.Error(err))
		return
	}
	remote := archive.NewSegmentSet()
	for _, seg := range segments {
		remote.Add(seg)
		e.state.Done.Add(seg)
	}
	e.reconciler.Prune(e.state.Done, remote)
}

// publish swaps in the new snapshot as one value.
func (e *Exporter) publish(report archive.Report) {
	snap := snapshot{
		report:      report,
		backupCount: len(e.state.Backups),
		readyCount:  e.state.Ready.Len(),
		exception:   e.state.Flags.Status(),
		fuseBurnt:   e.fuseBurnt(),
	}
	if n := len(e.state.Backups); n > 0 {
		snap.oldestBackup = &e.state.Backups[0]
		snap.newestBackup = &e.state.Backups[n-1]
	}
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
}

func (e *Exporter) fuseBurnt() bool {
	_, err := os.Stat(e.fusePath)
	return err == nil
}

// MetricsHandler exposes the Prometheus registry.
func (e *Exporter) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}
