// internal/archive/health.go
package archive

// Exception bit weights. Alerting rules are built on these exact
// values; they must never be reassigned.
const (
	weightBackupListFailed  = 1
	weightArchiveScanFailed = 2
	weightRemoteListFailed  = 4
)

// Flags holds the per-collaborator failure indicators for one tick.
// Each flag contributes a fixed, independent bit to the status so that
// individual causes stay distinguishable in the aggregate.
type Flags struct {
	BackupListFailed  bool
	ArchiveScanFailed bool
	RemoteListFailed  bool
}

// Status combines the flags into the exported walg_exception value.
// 0 means fully healthy.
func (f Flags) Status() int {
	status := 0
	if f.BackupListFailed {
		status += weightBackupListFailed
	}
	if f.ArchiveScanFailed {
		status += weightArchiveScanFailed
	}
	if f.RemoteListFailed {
		status += weightRemoteListFailed
	}
	return status
}

// Healthy reports whether no failure is active.
func (f Flags) Healthy() bool {
	return f.Status() == 0
}
