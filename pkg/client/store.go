package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// RememberedDevice is the peer that last connected and passed verification.
type RememberedDevice struct {
	Address string `yaml:"last_address"`
	Name    string `yaml:"last_name,omitempty"`
}

// Store persists the remembered device as a small YAML file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the remembered device. A missing file is not an error.
func (s *Store) Load() (RememberedDevice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return RememberedDevice{}, false, nil
	}
	if err != nil {
		return RememberedDevice{}, false, fmt.Errorf("read device store: %w", err)
	}

	var dev RememberedDevice
	if err := yaml.Unmarshal(data, &dev); err != nil {
		return RememberedDevice{}, false, fmt.Errorf("parse device store %s: %w", s.path, err)
	}
	return dev, dev.Address != "", nil
}

// Save writes dev atomically, creating the parent directory.
func (s *Store) Save(dev RememberedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(dev)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write device store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Forget removes the remembered device.
func (s *Store) Forget() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
