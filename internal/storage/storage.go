// Package storage provides the durable keyed JSON store backing sessions.
//
// Values are stored as one JSON file per key under a base directory. Writes
// go to a temp file and are renamed into place so readers never observe a
// half-written value. Cross-process safety comes from per-file flock locks.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/burrowai/burrow/internal/apierr"
)

// Store provides file-based JSON storage.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a new Store rooted at basePath.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// validateKey rejects key paths whose elements carry filesystem meaning.
// Keys are joined into file paths, so an element like ".." or "a/b" would
// address files outside the base directory.
func validateKey(path []string) error {
	if len(path) == 0 {
		return apierr.New(apierr.KindValidation, "storage key is empty")
	}
	for _, el := range path {
		if el == "" || el == "." || el == ".." || strings.ContainsAny(el, "/\\\x00") {
			return apierr.New(apierr.KindValidation, "unsafe storage key element %q", el)
		}
	}
	return nil
}

// pathToFile converts a key path to a file path.
func (s *Store) pathToFile(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

// pathToDir converts a key path to a directory path.
func (s *Store) pathToDir(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get retrieves a value. A missing key is KindNotFound; any other read
// failure is KindBackendUnavailable so callers can tell "absent" from
// "backend down".
func (s *Store) Get(ctx context.Context, path []string, v any) error {
	if err := validateKey(path); err != nil {
		return err
	}

	data, err := os.ReadFile(s.pathToFile(path))
	if err != nil {
		if os.IsNotExist(err) {
			return apierr.New(apierr.KindNotFound, "key %s not found", strings.Join(path, "/"))
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage read failed")
	}

	if err := json.Unmarshal(data, v); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage value corrupt")
	}

	return nil
}

// Put stores a value with file locking and an atomic temp-file rename.
func (s *Store) Put(ctx context.Context, path []string, v any) error {
	if err := validateKey(path); err != nil {
		return err
	}

	filePath := s.pathToFile(path)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage directory create failed")
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage lock failed")
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "storage marshal failed")
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage write failed")
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage rename failed")
	}

	return nil
}

// Delete removes a value. Deleting a missing key is KindNotFound.
func (s *Store) Delete(ctx context.Context, path []string) error {
	if err := validateKey(path); err != nil {
		return err
	}

	filePath := s.pathToFile(path)

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage lock failed")
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return apierr.New(apierr.KindNotFound, "key %s not found", strings.Join(path, "/"))
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "storage delete failed")
	}

	return nil
}

// List returns the sorted keys stored directly under a path.
func (s *Store) List(ctx context.Context, path []string) ([]string, error) {
	if err := validateKey(path); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.pathToDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "storage list failed")
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			keys = append(keys, name)
		} else if strings.HasSuffix(name, ".json") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(keys)

	return keys, nil
}

// Scan iterates over all values stored directly under a path, in key order.
func (s *Store) Scan(ctx context.Context, path []string, fn func(key string, data json.RawMessage) error) error {
	keys, err := s.List(ctx, path)
	if err != nil {
		return err
	}

	dirPath := s.pathToDir(path)
	for _, key := range keys {
		data, err := os.ReadFile(filepath.Join(dirPath, key+".json"))
		if err != nil {
			continue // removed between List and read
		}
		if err := fn(key, json.RawMessage(data)); err != nil {
			return err
		}
	}

	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, path []string) bool {
	if validateKey(path) != nil {
		return false
	}
	_, err := os.Stat(s.pathToFile(path))
	return err == nil
}

// getLock returns the file lock for a path, creating it on first use.
func (s *Store) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}

	return lock
}
