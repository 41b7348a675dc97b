// Package lock provides the single-writer lease backed by an OS file lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// FileLeaseProvider hands out exclusive, non-blocking flock leases on one path.
// The lock dies with the process, so a crashed updater never blocks the next run.
type FileLeaseProvider struct {
	path   string
	logger *slog.Logger
}

// NewFileLeaseProvider creates a provider for path (e.g. "update.lock").
func NewFileLeaseProvider(path string, logger *slog.Logger) *FileLeaseProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLeaseProvider{path: path, logger: logger.With("component", "lock", "path", path)}
}

// TryAcquire takes LOCK_EX|LOCK_NB. Contention returns shared.ErrUpdateInProgress.
func (p *FileLeaseProvider) TryAcquire(ctx context.Context) (shared.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, shared.ErrUpdateInProgress
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	p.logger.Debug("lease acquired")
	return &fileLease{file: f, logger: p.logger}, nil
}

type fileLease struct {
	once   sync.Once
	file   *os.File
	logger *slog.Logger
}

// Release unlocks and closes the file. The lock file itself is left in place.
func (l *fileLease) Release(context.Context) error {
	var err error
	l.once.Do(func() {
		unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		closeErr := l.file.Close()
		err = errors.Join(unlockErr, closeErr)
		l.logger.Debug("lease released")
	})
	return err
}
