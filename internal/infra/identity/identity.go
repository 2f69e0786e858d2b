// Package identity persists the session identity between runs. The login
// flow writes it; this subsystem only reads and clears it.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
)

// FileStore reads and clears a JSON identity file on local disk.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted identity. A missing file means no session and
// is not an error.
func (s *FileStore) Load() (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var ident domain.Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return &ident, nil
}

// Save writes the identity atomically via a temp file rename.
func (s *FileStore) Save(ident *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace identity file: %w", err)
	}
	return nil
}

// Clear removes the persisted identity. Clearing an absent file is a no-op.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
