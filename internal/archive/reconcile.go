// internal/archive/reconcile.go
package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/database"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// RemoteChecker verifies a single segment's presence in remote storage.
type RemoteChecker interface {
	Contains(ctx context.Context, segment wal.Segment) (bool, error)
}

// Reconciler keeps the done set consistent with the archiver's view and
// the remote listing without re-scanning all history each tick. Both of
// its operations are idempotent.
type Reconciler struct {
	checker RemoteChecker
	logger  *zap.Logger
}

// NewReconciler creates a Reconciler using the given presence checker.
func NewReconciler(checker RemoteChecker, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{checker: checker, logger: logger}
}

// Extend advances the done set from its current maximum to the
// archiver's last archived segment. While a reported failure overlaps
// the unconfirmed range (last_failed_wal not older than the known
// maximum), archived_count alone cannot be trusted, so each candidate
// is verified against remote storage before it is admitted.
func (r *Reconciler) Extend(ctx context.Context, done *SegmentSet, status *database.ArchiverStatus) (added int, err error) {
	if status == nil {
		return 0, nil
	}
	target := status.LastArchivedWAL

	max, ok := done.Max()
	if !ok {
		// Empty set: the archiver's word is the only anchor available.
		done.Add(target)
		return 1, nil
	}
	if !max.Before(target) {
		return 0, nil
	}

	verify := status.LastFailedWAL != nil && !status.LastFailedWAL.Before(max)
	for current := max; current != target; {
		current = current.Next()
		if verify {
			present, cerr := r.checker.Contains(ctx, current)
			if cerr != nil {
				return added, fmt.Errorf("verify %s: %w", current, cerr)
			}
			if !present {
				r.logger.Debug("segment reported archived but absent remotely",
					zap.String("segment", current.String()))
				continue
			}
		}
		if done.Add(current) {
			added++
		}
	}
	return added, nil
}

// Prune removes done segments that have disappeared from remote
// storage. It sweeps oldest-first and stops at the first segment still
// present: retention reclaims from the old end, so anything newer is
// assumed intact without touching the remote again.
func (r *Reconciler) Prune(done, remote *SegmentSet) (removed int) {
	for _, seg := range done.Sorted() {
		if remote.Contains(seg) {
			break
		}
		done.Remove(seg)
		removed++
	}
	if removed > 0 {
		r.logger.Info("pruned segments reclaimed by retention",
			zap.Int("removed", removed),
			zap.Int("remaining", done.Len()))
	}
	return removed
}
