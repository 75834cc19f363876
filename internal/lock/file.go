package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fileEntry struct {
	ExpiresAt float64 `json:"expires_at"`
	UUID      string  `json:"uuid"`
}

// FileManager keeps every lock in one JSON object on disk:
//
//	{"name": {"expires_at": 1700000000.5, "uuid": "..."}}
//
// The in-process mutex and the flock together cover the whole
// open/modify/write window.
type FileManager struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *slog.Logger
}

func NewFileManager(path string, logger *slog.Logger) *FileManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileManager{path: path, now: time.Now, logger: logger}
}

// WithClock replaces the time source. Used by tests to expire locks.
func (m *FileManager) WithClock(now func() time.Time) *FileManager {
	m.now = now
	return m
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// update runs fn over the decoded map and rewrites the file when fn reports
// a change.
func (m *FileManager) update(ctx context.Context, fn func(entries map[string]fileEntry) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fl := &flockFile{path: m.path}
	if err := fl.lock(ctx); err != nil {
		return backendErr("lock file", err)
	}
	defer func() {
		if err := fl.unlock(); err != nil {
			m.logger.Warn("lock file unlock failed", "path", m.path, "error", err)
		}
	}()

	raw, err := io.ReadAll(fl.file)
	if err != nil {
		return backendErr("read lock file", err)
	}
	entries := map[string]fileEntry{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			m.logger.Warn("lock file unreadable, starting empty", "path", m.path, "error", err)
			entries = map[string]fileEntry{}
		}
	}
	if !fn(entries) {
		return nil
	}

	out, err := json.Marshal(entries)
	if err != nil {
		return backendErr("encode lock file", err)
	}
	if err := fl.file.Truncate(0); err != nil {
		return backendErr("truncate lock file", err)
	}
	if _, err := fl.file.WriteAt(out, 0); err != nil {
		return backendErr("write lock file", err)
	}
	if err := fl.file.Sync(); err != nil {
		return backendErr("sync lock file", err)
	}
	return nil
}

func (m *FileManager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	now := m.now()
	l := &Lock{Name: name, Token: uuid.NewString(), Created: now, TTL: ttl}
	acquired := false
	err := m.update(ctx, func(entries map[string]fileEntry) bool {
		// drop every expired entry while the file is open anyway
		nowSec := unixSeconds(now)
		for k, e := range entries {
			if e.ExpiresAt <= nowSec {
				delete(entries, k)
			}
		}
		if _, live := entries[name]; live {
			return false
		}
		entries[name] = fileEntry{ExpiresAt: unixSeconds(l.ExpiresAt()), UUID: l.Token}
		acquired = true
		return true
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, unavailable(name)
	}
	return l, nil
}

func (m *FileManager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	return m.update(ctx, func(entries map[string]fileEntry) bool {
		e, ok := entries[l.Name]
		if !ok || e.UUID != l.Token {
			return false
		}
		delete(entries, l.Name)
		return true
	})
}

func (m *FileManager) PurgeAll(ctx context.Context) error {
	return m.update(ctx, func(entries map[string]fileEntry) bool {
		for k := range entries {
			delete(entries, k)
		}
		return true
	})
}

// Holders lists the live entries, for the admin CLI.
func (m *FileManager) Holders(ctx context.Context) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	nowSec := unixSeconds(m.now())
	err := m.update(ctx, func(entries map[string]fileEntry) bool {
		for k, e := range entries {
			if e.ExpiresAt > nowSec {
				out[k] = fromUnixSeconds(e.ExpiresAt)
			}
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("list lock holders: %w", err)
	}
	return out, nil
}
