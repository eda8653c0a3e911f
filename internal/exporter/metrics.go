// internal/exporter/metrics.go
package exporter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/archive"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/backup"
)

// snapshot is the last fully-computed bundle of derived values. The
// exporter swaps a complete snapshot in under its lock at the end of a
// tick, so a scrape never observes a half-updated set of counters.
type snapshot struct {
	report       archive.Report
	backupCount  int
	oldestBackup *backup.Backup
	newestBackup *backup.Backup
	readyCount   int
	exception    int
	fuseBurnt    bool
}

// metrics owns the Prometheus registry. Gauge names and label sets are
// a stable contract with dashboards and alerting rules; do not rename
// them without a compatibility plan.
type metrics struct {
	registry *prometheus.Registry

	basebackup     *prometheus.GaugeVec
	lastUpload     *prometheus.GaugeVec
	lastBackupSize *prometheus.GaugeVec
}

// newMetrics registers every gauge against a private registry. Scalar
// gauges are GaugeFuncs reading the published snapshot through read,
// which takes the exporter's read lock.
func newMetrics(read func() snapshot) *metrics {
	registry := prometheus.NewRegistry()

	m := &metrics{
		registry: registry,
		basebackup: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walg_basebackup_seconds",
				Help: "Start time of each retained base backup",
			},
			[]string{"start_wal_segment", "start_lsn"},
		),
		lastUpload: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walg_last_upload_seconds",
				Help: "Last upload of an xlog segment or base backup",
			},
			[]string{"type"},
		),
		lastBackupSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walg_last_backup_size_bytes",
				Help: "Size of the most recent base backup, compression=\"yes\" or \"no\"",
			},
			[]string{"compression"},
		),
	}
	registry.MustRegister(m.basebackup, m.lastUpload, m.lastBackupSize)

	gaugeFunc := func(name, help string, value func(snapshot) float64) {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return value(read()) },
		))
	}

	gaugeFunc("walg_basebackup_count",
		"Number of base backups retained remotely",
		func(s snapshot) float64 { return float64(s.backupCount) })

	gaugeFunc("walg_oldest_basebackup_seconds",
		"Start time of the oldest retained base backup",
		func(s snapshot) float64 {
			if s.oldestBackup == nil {
				return 0
			}
			return float64(s.oldestBackup.StartTime.Unix())
		})

	gaugeFunc("walg_last_backup_duration_seconds",
		"Duration of the most recent base backup",
		func(s snapshot) float64 {
			if s.newestBackup == nil {
				return 0
			}
			return s.newestBackup.Duration().Seconds()
		})

	gaugeFunc("walg_missing_remote_wal_segment",
		"Archived segments missing between known-done neighbours",
		func(s snapshot) float64 { return float64(s.report.MissingSegments) })

	gaugeFunc("walg_missing_remote_wal_segment_at_end",
		"Segments ready locally but not yet confirmed uploaded",
		func(s snapshot) float64 { return float64(s.readyCount) })

	gaugeFunc("walg_continuous_wal",
		"Length of the unbroken archived-segment run from the oldest backup",
		func(s snapshot) float64 { return float64(s.report.ContinuousRun) })

	gaugeFunc("walg_valid_basebackup_count",
		"Base backups restorable through an unbroken segment run",
		func(s snapshot) float64 { return float64(s.report.ValidBackupCount) })

	gaugeFunc("walg_oldest_valid_basebackup_seconds",
		"Start time of the oldest backup still restorable, 0 when none",
		func(s snapshot) float64 {
			if s.report.OldestValidBackup.IsZero() {
				return 0
			}
			return float64(s.report.OldestValidBackup.Unix())
		})

	gaugeFunc("walg_useless_remote_wal_segment",
		"Retained segments older than the oldest base backup",
		func(s snapshot) float64 { return float64(s.report.UselessSegments) })

	gaugeFunc("walg_xlogs_since_basebackup",
		"Archived segments newer than the most recent base backup",
		func(s snapshot) float64 { return float64(s.report.XlogSinceLastBackup) })

	gaugeFunc("walg_exception",
		"Sum of failure bits: 1 backup listing, 2 local archive scan, 4 remote listing; 0 healthy",
		func(s snapshot) float64 { return float64(s.exception) })

	gaugeFunc("walg_backup_fuse",
		"0 backup fuse is OK, 1 backup fuse is burnt",
		func(s snapshot) float64 {
			if s.fuseBurnt {
				return 1
			}
			return 0
		})

	return m
}

// updateBackups rewrites the per-backup and last-backup labeled series
// after a completed listing refresh.
func (m *metrics) updateBackups(previous, current []backup.Backup) {
	for _, gone := range backup.Deleted(previous, current) {
		m.basebackup.DeleteLabelValues(gone.StartSegment.String(), gone.StartLSN)
	}
	for _, b := range current {
		m.basebackup.WithLabelValues(b.StartSegment.String(), b.StartLSN).
			Set(float64(b.StartTime.Unix()))
	}
	if len(current) > 0 {
		last := current[len(current)-1]
		m.lastUpload.WithLabelValues("basebackup").Set(float64(last.StartTime.Unix()))
		m.lastBackupSize.WithLabelValues("yes").Set(float64(last.CompressedSize))
		m.lastBackupSize.WithLabelValues("no").Set(float64(last.UncompressedSize))
	}
}

// setLastXlogUpload records the archiver's last successful upload time.
func (m *metrics) setLastXlogUpload(unixSeconds float64) {
	m.lastUpload.WithLabelValues("xlog").Set(unixSeconds)
}

// Handler serves the registry over HTTP.
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
