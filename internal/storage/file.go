package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/teemow/oxd/internal/rp"
)

const (
	fileExtension = ".json"
	lockFileName  = ".oxd.lock"

	// lockTimeout is the maximum time to wait for the directory lock.
	lockTimeout = 2 * time.Second
)

// FileStore keeps one JSON document per RP in a directory. A lock file guards
// the directory against concurrent writers from other processes; writes go
// through a temporary file and an atomic rename.
type FileStore struct {
	dir string

	// mu serializes goroutines; lock only excludes other processes.
	mu     sync.Mutex
	lock   *flock.Flock
	keys   keyedMutex
	logger *slog.Logger
}

// NewFileStore creates the directory if needed and returns a store on top of it.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file storage directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, lockFileName)),
		logger: logger,
	}, nil
}

func (s *FileStore) path(oxdID string) (string, error) {
	if oxdID == "" || strings.ContainsAny(oxdID, `/\`) || strings.Contains(oxdID, "..") {
		return "", fmt.Errorf("%w: invalid oxd_id %q", ErrNotFound, oxdID)
	}
	return filepath.Join(s.dir, oxdID+fileExtension), nil
}

// withDirLock runs fn while holding the cross-process directory lock.
func (s *FileStore) withDirLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire storage lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire storage lock: timeout after %v", lockTimeout)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release storage lock", "error", err)
		}
	}()
	return fn()
}

func (s *FileStore) Create(ctx context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	path, err := s.path(r.OxdID)
	if err != nil {
		return err
	}
	unlock := s.keys.Lock(r.OxdID)
	defer unlock()

	return s.withDirLock(ctx, func() error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, r.OxdID)
		}
		return s.write(path, r)
	})
}

func (s *FileStore) Update(ctx context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	path, err := s.path(r.OxdID)
	if err != nil {
		return err
	}
	unlock := s.keys.Lock(r.OxdID)
	defer unlock()

	return s.withDirLock(ctx, func() error {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, r.OxdID)
		}
		return s.write(path, r)
	})
}

func (s *FileStore) write(path string, r rp.RP) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rp %s: %w", r.OxdID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".rp-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write rp %s: %w", r.OxdID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync rp %s: %w", r.OxdID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to persist rp %s: %w", r.OxdID, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, oxdID string) (rp.RP, error) {
	path, err := s.path(oxdID)
	if err != nil {
		return rp.RP{}, err
	}
	return readRPFile(path, oxdID)
}

func readRPFile(path, oxdID string) (rp.RP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rp.RP{}, fmt.Errorf("%w: %s", ErrNotFound, oxdID)
		}
		return rp.RP{}, fmt.Errorf("failed to read rp %s: %w", oxdID, err)
	}
	var r rp.RP
	if err := json.Unmarshal(data, &r); err != nil {
		return rp.RP{}, fmt.Errorf("corrupted rp file %s: %w", path, err)
	}
	return r, nil
}

func (s *FileStore) RemoveAll(ctx context.Context) error {
	return s.withDirLock(ctx, func() error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return fmt.Errorf("failed to list storage directory: %w", err)
		}
		removed := 0
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != fileExtension {
				continue
			}
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
			}
			removed++
		}
		s.logger.Info("removed all rps", "storage", "file", "count", removed)
		return nil
	})
}

// Load verifies that every stored document can be decoded. Corrupted files are
// reported and skipped.
func (s *FileStore) Load(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list storage directory: %w", err)
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExtension {
			continue
		}
		oxdID := strings.TrimSuffix(e.Name(), fileExtension)
		if _, err := readRPFile(filepath.Join(s.dir, e.Name()), oxdID); err != nil {
			s.logger.Error("skipping unreadable rp", "oxd_id", oxdID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *FileStore) Close() error {
	return s.lock.Close()
}
