// internal/database/archiver.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// ErrArchivingDisabled is returned when pg_stat_archiver has never
// recorded an archived segment, i.e. archive_mode is off. The exporter
// cannot classify health without at least one archived segment.
var ErrArchivingDisabled = errors.New("database: archiving not enabled on instance")

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// ArchiverStatus is one snapshot of the pg_stat_archiver counters.
type ArchiverStatus struct {
	ArchivedCount    int64
	FailedCount      int64
	LastArchivedWAL  wal.Segment
	LastArchivedTime time.Time
	LastFailedWAL    *wal.Segment
	LastFailedTime   time.Time
}

// Postgres is a connection to the monitored instance.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgres opens a connection pool to the monitored instance.
func NewPostgres(cfg Config, logger *zap.Logger) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A monitoring query every second at most needs almost nothing.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// IsPrimary reports whether the instance is a primary (not in recovery).
// The exporter only monitors primaries; replicas do not archive.
func (p *Postgres) IsPrimary(ctx context.Context) (bool, error) {
	var primary bool
	err := p.db.QueryRowContext(ctx, "SELECT NOT pg_is_in_recovery()").Scan(&primary)
	if err != nil {
		return false, fmt.Errorf("query pg_is_in_recovery: %w", err)
	}
	return primary, nil
}

// ArchiverStatus fetches one snapshot of pg_stat_archiver. It returns
// ErrArchivingDisabled when the view has no last archived segment.
func (p *Postgres) ArchiverStatus(ctx context.Context) (*ArchiverStatus, error) {
	const query = `SELECT archived_count, failed_count,
		last_archived_wal, last_archived_time,
		last_failed_wal, last_failed_time
		FROM pg_stat_archiver`

	var (
		archivedCount sql.NullInt64
		failedCount   sql.NullInt64
		archivedWAL   sql.NullString
		archivedTime  sql.NullTime
		failedWAL     sql.NullString
		failedTime    sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query).Scan(
		&archivedCount, &failedCount,
		&archivedWAL, &archivedTime,
		&failedWAL, &failedTime,
	)
	if err != nil {
		return nil, fmt.Errorf("query pg_stat_archiver: %w", err)
	}

	if !archivedWAL.Valid || !archivedTime.Valid {
		return nil, ErrArchivingDisabled
	}

	lastArchived, err := wal.ParseSegment(archivedWAL.String)
	if err != nil {
		return nil, fmt.Errorf("pg_stat_archiver last_archived_wal: %w", err)
	}

	status := &ArchiverStatus{
		ArchivedCount:    archivedCount.Int64,
		FailedCount:      failedCount.Int64,
		LastArchivedWAL:  lastArchived,
		LastArchivedTime: archivedTime.Time,
	}
	if failedWAL.Valid {
		// Timeline history files also pass through the archiver and show
		// up here; they are not WAL segments, so skip them.
		if failed, err := wal.ParseSegment(failedWAL.String); err == nil {
			status.LastFailedWAL = &failed
			status.LastFailedTime = failedTime.Time
		} else {
			p.logger.Debug("ignoring non-segment last_failed_wal",
				zap.String("name", failedWAL.String))
		}
	}
	return status, nil
}
