package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Store is a flat string key-value preference store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore keeps preferences in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns every key in sorted order.
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// FileStore persists preferences in a config file through viper. The format
// follows the file extension (yaml, json, toml). Keys are case-insensitive
// and dotted keys are stored as nested tables.
type FileStore struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
}

// NewFileStore opens the file at path, which need not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if filepath.Ext(path) == "" {
		return nil, fmt.Errorf("preference file %s needs an extension to select its format", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read preference file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat preference file: %w", err)
	}

	return &FileStore{path: path, v: v}, nil
}

// Get returns the value stored under key.
func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.v.IsSet(key) {
		return "", false, nil
	}
	return f.v.GetString(key), true, nil
}

// Set stores value under key and rewrites the file.
func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v.Set(key, value)
	return f.write(f.v)
}

// Delete removes key and rewrites the file. Viper cannot unset a key, so
// the remaining keys are copied into a fresh instance.
func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key = strings.ToLower(key)
	if !f.v.IsSet(key) {
		return nil
	}

	next := viper.New()
	next.SetConfigFile(f.path)
	for _, k := range f.v.AllKeys() {
		if k == key {
			continue
		}
		next.Set(k, f.v.GetString(k))
	}

	if err := f.write(next); err != nil {
		return err
	}
	f.v = next
	return nil
}

// Keys returns every key in sorted order.
func (f *FileStore) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := f.v.AllKeys()
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) write(v *viper.Viper) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create preference directory: %w", err)
	}
	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("failed to write preference file: %w", err)
	}
	return nil
}
