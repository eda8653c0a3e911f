// internal/archive/reconcile_test.go
package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/database"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

type fakeChecker struct {
	present map[wal.Segment]bool
	err     error
	calls   int
}

func (f *fakeChecker) Contains(ctx context.Context, segment wal.Segment) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.present[segment], nil
}

func TestExtend(t *testing.T) {
	t.Run("advances to the last archived segment", func(t *testing.T) {
		done := setOf(100, 101)
		checker := &fakeChecker{}
		rec := NewReconciler(checker, nil)

		last := seg(104)
		added, err := rec.Extend(context.Background(), done, &database.ArchiverStatus{LastArchivedWAL: last})
		require.NoError(t, err)
		assert.Equal(t, 3, added)
		for _, pos := range []uint32{102, 103, 104} {
			assert.True(t, done.Contains(seg(pos)), "segment %d", pos)
		}
		assert.Zero(t, checker.calls, "no reported failure, no remote verification")
	})

	t.Run("is idempotent", func(t *testing.T) {
		done := setOf(100)
		rec := NewReconciler(&fakeChecker{}, nil)
		status := &database.ArchiverStatus{LastArchivedWAL: seg(103)}

		added, err := rec.Extend(context.Background(), done, status)
		require.NoError(t, err)
		assert.Equal(t, 3, added)

		added, err = rec.Extend(context.Background(), done, status)
		require.NoError(t, err)
		assert.Zero(t, added)
		assert.Equal(t, 4, done.Len())
	})

	t.Run("seeds an empty set from the archiver", func(t *testing.T) {
		done := NewSegmentSet()
		rec := NewReconciler(&fakeChecker{}, nil)

		added, err := rec.Extend(context.Background(), done, &database.ArchiverStatus{LastArchivedWAL: seg(104)})
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.True(t, done.Contains(seg(104)))
	})

	t.Run("historic failures behind the confirmed range need no verification", func(t *testing.T) {
		done := setOf(100, 101, 102)
		failed := seg(95)
		checker := &fakeChecker{}
		rec := NewReconciler(checker, nil)

		_, err := rec.Extend(context.Background(), done, &database.ArchiverStatus{
			LastArchivedWAL: seg(104),
			LastFailedWAL:   &failed,
		})
		require.NoError(t, err)
		assert.Zero(t, checker.calls)
		assert.True(t, done.Contains(seg(104)))
	})

	t.Run("a failure overlapping the unconfirmed range forces verification", func(t *testing.T) {
		done := setOf(100, 101)
		failed := seg(103)
		checker := &fakeChecker{present: map[wal.Segment]bool{
			seg(102): true,
			seg(104): true,
			// 103 genuinely failed to archive.
		}}
		rec := NewReconciler(checker, nil)

		added, err := rec.Extend(context.Background(), done, &database.ArchiverStatus{
			LastArchivedWAL: seg(104),
			LastFailedWAL:   &failed,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, added)
		assert.True(t, done.Contains(seg(102)))
		assert.False(t, done.Contains(seg(103)), "unverified segment not trusted")
		assert.True(t, done.Contains(seg(104)))
		assert.Equal(t, 3, checker.calls)
	})

	t.Run("verification errors abort the extension", func(t *testing.T) {
		done := setOf(100)
		failed := seg(101)
		checker := &fakeChecker{err: errors.New("remote unreachable")}
		rec := NewReconciler(checker, nil)

		_, err := rec.Extend(context.Background(), done, &database.ArchiverStatus{
			LastArchivedWAL: seg(103),
			LastFailedWAL:   &failed,
		})
		assert.Error(t, err)
		assert.False(t, done.Contains(seg(103)))
	})

	t.Run("nil status is a no-op", func(t *testing.T) {
		done := setOf(100)
		rec := NewReconciler(&fakeChecker{}, nil)
		added, err := rec.Extend(context.Background(), done, nil)
		require.NoError(t, err)
		assert.Zero(t, added)
	})
}

func TestPrune(t *testing.T) {
	t.Run("removes segments reclaimed from the old end", func(t *testing.T) {
		done := setOf(100, 101, 102, 103)
		remote := setOf(102, 103)
		rec := NewReconciler(&fakeChecker{}, nil)

		removed := rec.Prune(done, remote)
		assert.Equal(t, 2, removed)
		assert.False(t, done.Contains(seg(100)))
		assert.False(t, done.Contains(seg(101)))
		assert.True(t, done.Contains(seg(102)))
	})

	t.Run("stops at the first segment still present", func(t *testing.T) {
		// 101 is missing remotely but sits behind 100, which is still
		// there: the oldest-first sweep stops before reaching it.
		done := setOf(100, 101, 102)
		remote := setOf(100, 102)
		rec := NewReconciler(&fakeChecker{}, nil)

		removed := rec.Prune(done, remote)
		assert.Zero(t, removed)
		assert.True(t, done.Contains(seg(101)))
	})

	t.Run("is idempotent", func(t *testing.T) {
		done := setOf(100, 101, 102)
		remote := setOf(101, 102)
		rec := NewReconciler(&fakeChecker{}, nil)

		assert.Equal(t, 1, rec.Prune(done, remote))
		assert.Equal(t, 0, rec.Prune(done, remote))
		assert.Equal(t, 2, done.Len())
	})
}
