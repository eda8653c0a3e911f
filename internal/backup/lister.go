// internal/backup/lister.go
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCommandFailed is returned when the wal-g process itself fails,
// which usually means the remote store is unreachable. Callers treat it
// as a remote failure, not a listing failure.
var ErrCommandFailed = errors.New("backup: wal-g command failed")

// runner executes the backup-list command and returns its stdout.
// Injected in tests so no wal-g binary is needed.
type runner func(ctx context.Context) ([]byte, error)

// Lister fetches the retained base backups by invoking wal-g. Calls go
// through a circuit breaker so a flapping binary or remote does not get
// hammered on every tick.
type Lister struct {
	run     runner
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// ListerOption configures a Lister.
type ListerOption func(*Lister)

// WithRunner replaces the wal-g invocation, for tests.
func WithRunner(run runner) ListerOption {
	return func(l *Lister) {
		l.run = run
	}
}

// WithListerLogger adds logging.
func WithListerLogger(logger *zap.Logger) ListerOption {
	return func(l *Lister) {
		l.logger = logger
	}
}

// NewLister creates a Lister running the given wal-g binary with the
// given per-invocation timeout.
func NewLister(binary string, timeout time.Duration, opts ...ListerOption) *Lister {
	l := &Lister{
		run:    execRunner(binary, timeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "wal-g backup-list",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("backup lister breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return l
}

func execRunner(binary string, timeout time.Duration) runner {
	return func(ctx context.Context) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		cmd := exec.CommandContext(ctx, binary, "backup-list", "--detail", "--json") // #nosec G204 - operator-configured binary
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("%w: %v: %s", ErrCommandFailed, err,
				bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.Bytes(), nil
	}
}

// List returns the current retained backups, sorted by start time.
// A failed command surfaces as ErrCommandFailed (remote failure); output
// that does not decode surfaces as ErrBadListing. An open breaker counts
// as a command failure.
func (l *Lister) List(ctx context.Context) ([]Backup, error) {
	result, err := l.breaker.Execute(func() (interface{}, error) {
		out, err := l.run(ctx)
		if err != nil {
			return nil, err
		}
		return ParseListing(out)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCommandFailed, err)
		}
		return nil, err
	}

	backups := result.([]Backup)
	if len(backups) > 0 {
		last := backups[len(backups)-1]
		l.logger.Info("fetched base backups",
			zap.Int("count", len(backups)),
			zap.Time("oldest", backups[0].StartTime),
			zap.Time("newest", last.StartTime),
			zap.String("newest_size", humanize.Bytes(uint64(last.CompressedSize))))
	} else {
		l.logger.Info("no base backups retained remotely")
	}
	return backups, nil
}
