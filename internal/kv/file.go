package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/logger"
)

// FileStore keeps every key in one JSON object file. Writes go to a temp file
// and are renamed into place. On the OS filesystem an flock on "<path>.lock"
// keeps a second process from interleaving a read-modify-write.
type FileStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	lock *flock.Flock
}

func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("kv: file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kv: create %s: %w", dir, err)
		}
	}

	s := &FileStore{fs: fs, path: path}
	if _, ok := fs.(*afero.OsFs); ok {
		s.lock = flock.New(path + ".lock")
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.withLock(ctx, func() error {
		m, err := s.load()
		if err != nil {
			return err
		}
		v, ok = m[key]
		return nil
	})
	return v, ok, err
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	return s.withLock(ctx, func() error {
		m, err := s.load()
		if err != nil {
			return err
		}
		m[key] = value
		return s.save(m)
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, func() error {
		m, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := m[key]; !ok {
			return nil
		}
		delete(m, key)
		return s.save(m)
	})
}

func (s *FileStore) Close() error {
	if s.lock != nil {
		return s.lock.Close()
	}
	return nil
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		locked, err := s.lock.TryLockContext(ctx, 20*time.Millisecond)
		if err != nil {
			return fmt.Errorf("kv: lock %s: %w", s.path, err)
		}
		if !locked {
			return fmt.Errorf("kv: lock %s: not acquired", s.path)
		}
		defer s.lock.Unlock()
	}
	return fn()
}

// load reads the whole file. A corrupt file is moved aside to "<path>.corrupt"
// and the store continues empty.
func (s *FileStore) load() (map[string]string, error) {
	m := map[string]string{}
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("kv: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Log.Warn("kv file is corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		if rerr := s.fs.Rename(s.path, s.path+".corrupt"); rerr != nil {
			logger.Log.Error("failed to move corrupt kv file aside", zap.Error(rerr))
		}
		return map[string]string{}, nil
	}
	return m, nil
}

func (s *FileStore) save(m map[string]string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("kv: write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("kv: replace %s: %w", s.path, err)
	}
	return nil
}
