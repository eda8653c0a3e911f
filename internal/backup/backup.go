// internal/backup/backup.go
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// ErrBadListing is returned when wal-g produced output that cannot be
// decoded into backup records. It is distinct from a command failure:
// unparsable output means the listing itself is broken, not the remote.
var ErrBadListing = errors.New("backup: bad backup listing")

// Kind discriminates full base backups from delta (incremental) ones,
// derived from the wal-g naming convention.
type Kind string

const (
	KindFull  Kind = "full"
	KindDelta Kind = "delta"
)

// Backup is one retained base backup as reported by wal-g. Immutable
// once parsed; a record absent from a later listing means the backup was
// deleted by retention.
type Backup struct {
	Name             string
	StartSegment     wal.Segment
	StartLSN         string
	StartTime        time.Time
	FinishTime       time.Time
	CompressedSize   int64
	UncompressedSize int64
	Kind             Kind
}

// Duration is the wall time the backup took.
func (b Backup) Duration() time.Duration {
	return b.FinishTime.Sub(b.StartTime)
}

// rawBackup mirrors one element of `wal-g backup-list --detail --json`.
type rawBackup struct {
	BackupName       string `json:"backup_name"`
	WalFileName      string `json:"wal_file_name"`
	StartLSN         string `json:"start_lsn"`
	StartTime        string `json:"start_time"`
	FinishTime       string `json:"finish_time"`
	DateFmt          string `json:"date_fmt"`
	CompressedSize   int64  `json:"compressed_size"`
	UncompressedSize int64  `json:"uncompressed_size"`
}

// wal-g emits timestamps with or without fractional seconds depending on
// version, so both layouts are tried.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000000Z07:00",
	"2006-01-02 15:04:05.000000 -07:00",
}

func parseTime(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ParseListing decodes a backup-list JSON document into validated
// records sorted by start time ascending.
func ParseListing(data []byte) ([]Backup, error) {
	var raws []rawBackup
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadListing, err)
	}

	backups := make([]Backup, 0, len(raws))
	for _, raw := range raws {
		b, err := raw.toBackup()
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].StartTime.Before(backups[j].StartTime)
	})
	return backups, nil
}

func (r rawBackup) toBackup() (Backup, error) {
	if r.BackupName == "" {
		return Backup{}, fmt.Errorf("%w: record without backup_name", ErrBadListing)
	}
	if r.WalFileName == "" {
		return Backup{}, fmt.Errorf("%w: %s has no wal_file_name", ErrBadListing, r.BackupName)
	}
	segment, err := wal.ParseSegment(r.WalFileName)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %s: %v", ErrBadListing, r.BackupName, err)
	}
	start, err := parseTime(r.StartTime)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %s has bad start_time %q", ErrBadListing, r.BackupName, r.StartTime)
	}
	finish, err := parseTime(r.FinishTime)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %s has bad finish_time %q", ErrBadListing, r.BackupName, r.FinishTime)
	}
	return Backup{
		Name:             r.BackupName,
		StartSegment:     segment,
		StartLSN:         r.StartLSN,
		StartTime:        start,
		FinishTime:       finish,
		CompressedSize:   r.CompressedSize,
		UncompressedSize: r.UncompressedSize,
		Kind:             kindOf(r.BackupName),
	}, nil
}

// kindOf derives the backup kind from the wal-g name: delta backups
// carry a "_D_" marker, e.g. base_000000010000000000000040_D_000000010000000000000020.
func kindOf(name string) Kind {
	if strings.Contains(name, "_D_") {
		return KindDelta
	}
	return KindFull
}

// Deleted returns the entries of previous that are absent from current,
// matched by name. Owners of per-backup labeled metrics use this to drop
// series for backups removed by retention.
func Deleted(previous, current []Backup) []Backup {
	retained := make(map[string]struct{}, len(current))
	for _, b := range current {
		retained[b.Name] = struct{}{}
	}
	var gone []Backup
	for _, b := range previous {
		if _, ok := retained[b.Name]; !ok {
			gone = append(gone, b)
		}
	}
	return gone
}
