package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all tenants in one JSON object on disk.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	tenants map[string]*Config // tenantId → config
}

// NewFileStore opens path, creating an empty store when the file does not exist.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		tenants: make(map[string]*Config),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read tenant store: %w", err)
	}
	var tenants map[string]*Config
	if err := json.Unmarshal(data, &tenants); err != nil {
		return fmt.Errorf("parse tenant store: %w", err)
	}
	if tenants != nil {
		s.tenants = tenants
	}
	return nil
}

func (s *FileStore) Save(_ context.Context, cfg Config) (string, error) {
	rec, err := prepare(cfg)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[rec.TenantID] = &rec
	if err := s.flush(); err != nil {
		delete(s.tenants, rec.TenantID)
		return "", err
	}
	return rec.TenantID, nil
}

func (s *FileStore) Load(_ context.Context, id string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *FileStore) Close() error { return nil }

// flush writes the whole map via tmp file + rename. Caller holds mu.
func (s *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.tenants, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tenant store: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write tenant store: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}
