package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// flockFile holds an exclusive flock(2) on a file for the duration of a
// read-modify-write. The lock dies with the process.
type flockFile struct {
	path string
	file *os.File
}

func (l *flockFile) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = f
	return nil
}

// lock polls with capped backoff until the flock is taken or ctx ends.
func (l *flockFile) lock(ctx context.Context) error {
	if err := l.open(); err != nil {
		return err
	}
	poll := 2 * time.Millisecond
	const maxPoll = 100 * time.Millisecond
	for {
		err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			l.close()
			return fmt.Errorf("flock: %w", err)
		}
		select {
		case <-ctx.Done():
			l.close()
			return ctx.Err()
		case <-time.After(poll):
			poll = min(poll*2, maxPoll)
		}
	}
}

func (l *flockFile) unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.close()
	if err != nil {
		return fmt.Errorf("flock unlock: %w", err)
	}
	return nil
}

func (l *flockFile) close() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}
