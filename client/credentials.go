package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"storyweave/pkg/domain"
)

// Credentials is the durable client-side state: the bearer token and the
// principal it was issued to. Nothing else persists between runs.
type Credentials struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// CredentialStore persists credentials across process restarts.
type CredentialStore interface {
	// Load returns the stored credentials, or ok=false when none exist.
	Load() (creds Credentials, ok bool, err error)
	Save(creds Credentials) error
	Clear() error
}

// FileCredentialStore keeps credentials in a mode-0600 JSON file under the
// user config directory.
type FileCredentialStore struct {
	path string
}

// NewFileCredentialStore builds a store at the default location
// (<user config dir>/storyweave/credentials.json).
func NewFileCredentialStore() (*FileCredentialStore, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return NewFileCredentialStoreAt(filepath.Join(configDir, "storyweave", "credentials.json")), nil
}

// NewFileCredentialStoreAt builds a store at an explicit path.
func NewFileCredentialStoreAt(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

func (s *FileCredentialStore) Load() (Credentials, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		// A corrupt file is as good as no file.
		return Credentials{}, false, nil
	}
	if creds.Token == "" {
		return Credentials{}, false, nil
	}
	return creds, true, nil
}

func (s *FileCredentialStore) Save(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// MemoryCredentialStore is an in-process store for tests.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds Credentials
	set   bool
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load() (Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.set, nil
}

func (s *MemoryCredentialStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.set = true
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	s.set = false
	return nil
}
