// internal/archive/state.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/backup"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/database"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

func parseStatusName(name string) (wal.Segment, error) {
	return wal.ParseSegment(name[:24])
}

// ErrStatusDirMissing is returned when the archive_status directory
// does not exist. Expected when archiving is not enabled or the volume
// is not mounted; callers flag it and keep their previous state.
var ErrStatusDirMissing = errors.New("archive: status directory missing")

var (
	doneNameRe  = regexp.MustCompile(`^[A-F0-9]{24}\.done$`)
	readyNameRe = regexp.MustCompile(`^[A-F0-9]{24}\.ready$`)
)

// StatusSource provides pg_stat_archiver snapshots.
type StatusSource interface {
	ArchiverStatus(ctx context.Context) (*database.ArchiverStatus, error)
}

// State is the mutable record of everything the exporter has observed:
// done and ready segments, the retained backups, the latest archiver
// snapshot and the per-collaborator failure flags. One instance is
// owned by the tick loop; nothing here is a process-wide singleton and
// nothing is safe for concurrent mutation.
type State struct {
	Done    *SegmentSet
	Ready   *SegmentSet
	Backups []backup.Backup
	Flags   Flags

	statusDir string
	source    StatusSource
	statusTTL time.Duration

	status     *database.ArchiverStatus
	statusAsOf time.Time
	logger     *zap.Logger
	clock      func() time.Time
}

// StateOption configures a State.
type StateOption func(*State)

// WithStateLogger adds logging.
func WithStateLogger(logger *zap.Logger) StateOption {
	return func(s *State) {
		s.logger = logger
	}
}

// WithClock replaces the time source, for TTL tests.
func WithClock(clock func() time.Time) StateOption {
	return func(s *State) {
		s.clock = clock
	}
}

// NewState creates an empty State scanning the given archive_status
// directory and caching archiver snapshots for statusTTL.
func NewState(statusDir string, source StatusSource, statusTTL time.Duration, opts ...StateOption) *State {
	s := &State{
		Done:      NewSegmentSet(),
		Ready:     NewSegmentSet(),
		statusDir: statusDir,
		source:    source,
		statusTTL: statusTTL,
		logger:    zap.NewNop(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshArchiverStatus returns the archiver snapshot, querying the
// instance at most once per TTL to bound query rate under frequent
// scrapes. On failure the previous good snapshot is returned alongside
// the error so metrics keep reporting last-known values.
func (s *State) RefreshArchiverStatus(ctx context.Context) (*database.ArchiverStatus, error) {
	if s.status != nil && s.clock().Sub(s.statusAsOf) < s.statusTTL {
		return s.status, nil
	}
	status, err := s.source.ArchiverStatus(ctx)
	if err != nil {
		return s.status, fmt.Errorf("refresh archiver status: %w", err)
	}
	s.status = status
	s.statusAsOf = s.clock()
	return status, nil
}

// ScanStatusDir reads the archive_status directory and folds new .done
// and .ready entries into the sets. A segment leaves the ready set once
// it is known done. On error the existing sets are left untouched.
func (s *State) ScanStatusDir() (newDone, newReady int, err error) {
	entries, err := os.ReadDir(s.statusDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, fmt.Errorf("%w: %s", ErrStatusDirMissing, s.statusDir)
		}
		return 0, 0, fmt.Errorf("scan %s: %w", s.statusDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		switch {
		case doneNameRe.MatchString(name):
			if seg, perr := parseStatusName(name); perr == nil {
				if s.Done.Add(seg) {
					newDone++
				}
				s.Ready.Remove(seg)
			}
		case readyNameRe.MatchString(name):
			if seg, perr := parseStatusName(name); perr == nil {
				if !s.Done.Contains(seg) && s.Ready.Add(seg) {
					newReady++
				}
			}
		}
	}

	s.logger.Debug("scanned archive status directory",
		zap.Int("new_done", newDone),
		zap.Int("new_ready", newReady),
		zap.Int("done_total", s.Done.Len()),
		zap.Int("ready_total", s.Ready.Len()))
	return newDone, newReady, nil
}
