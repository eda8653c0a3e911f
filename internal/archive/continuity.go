// internal/archive/continuity.go
package archive

import (
	"time"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/backup"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// Report is the continuity bundle derived from one scan. It is
// recomputed in full on every tick: a single late-arriving or deleted
// segment can retroactively invalidate the whole backup chain, so
// incremental maintenance would be unsound.
type Report struct {
	// MissingSegments counts gaps: segments expected between known-done
	// neighbours but absent from the done set.
	MissingSegments int
	// ContinuousRun is the length of the unbroken run of archived
	// segments from the oldest backup; a gap anywhere ends it for good.
	ContinuousRun int
	// ValidBackupCount is the size of the usable backup chain. A gap
	// invalidates every backup accumulated before it: the chain is only
	// as strong as its weakest link.
	ValidBackupCount int
	// OldestValidBackup is the start time of the oldest backup still
	// restorable through an unbroken segment run. Zero when none is.
	OldestValidBackup time.Time
	// UselessSegments counts retained segments older than the oldest
	// backup's start position: reclamation candidates, not a failure.
	UselessSegments int
	// XlogSinceLastBackup counts archived segments newer than the most
	// recent backup's start position.
	XlogSinceLastBackup int
}

// Analyze walks the segment sequence implied by the sorted backup list
// against the done set and derives the continuity report. It is a pure
// function: no I/O, no error paths; empty input yields a zero report.
func Analyze(backups []backup.Backup, done *SegmentSet) Report {
	var r Report
	if len(backups) == 0 {
		return r
	}

	// A stepped-over segment either extends the continuous run (only
	// while no gap has been seen yet) or records a gap, which voids the
	// chain built so far.
	step := func(seg wal.Segment) {
		if done.Contains(seg) {
			if r.MissingSegments == 0 {
				r.ContinuousRun++
			}
			return
		}
		r.MissingSegments++
		r.ContinuousRun = 0
		r.ValidBackupCount = 0
		r.OldestValidBackup = time.Time{}
	}

	current := backups[0].StartSegment
	r.OldestValidBackup = backups[0].StartTime
	r.ValidBackupCount = 1

	for _, bb := range backups[1:] {
		// Walk up to this backup's start segment. The walk is skipped
		// across a timeline switch (Before is false there): segments on
		// another timeline cannot be ordered, so no gap is claimed.
		for current != bb.StartSegment && current.Before(bb.StartSegment) {
			current = current.Next()
			step(current)
		}
		current = bb.StartSegment
		// The backup joins the chain only after the walk that reached
		// it: gaps on the way void the chain, then this backup starts a
		// new one.
		r.ValidBackupCount++
		if r.OldestValidBackup.IsZero() {
			r.OldestValidBackup = bb.StartTime
		}
	}

	// Continue past the newest backup up to the highest archived
	// segment. With an empty done set there is no master position and
	// the walk is skipped. Segments past max(done) are never visited,
	// so a trailing upload still in flight is not flagged as a gap; the
	// explicit AnyAfter check keeps that rule even if the bound changes.
	if master, ok := done.Max(); ok && current.Before(master) {
		for current != master {
			current = current.Next()
			if done.Contains(current) || done.AnyAfter(current) {
				step(current)
			}
		}
	}

	first := backups[0].StartSegment
	last := backups[len(backups)-1].StartSegment
	r.UselessSegments = done.CountBefore(first)
	r.XlogSinceLastBackup = done.CountAfter(last)
	return r
}
