package pairing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Credential is the durable result of a successful pairing.
type Credential struct {
	APIKey       string    `json:"api_key"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ServerURL    string    `json:"server_url"`
	BridgeID     string    `json:"bridge_id"`
	TenantName   string    `json:"tenant_name,omitempty"`
	PairedAt     time.Time `json:"paired_at"`
}

// Store persists the bridge credential across restarts.
type Store interface {
	// Load returns the stored credential, or (nil, nil) when none exists.
	Load() (*Credential, error)
	Save(*Credential) error
	// Clear removes the credential. Clearing an empty store is not an error.
	Clear() error
}

// FileStore keeps the credential as a 0600 JSON file in the data directory.
type FileStore struct {
	path string
}

// NewFileStore creates a credential store under dataDir.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{path: filepath.Join(dataDir, "credential.json")}
}

func (s *FileStore) Load() (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("corrupt credential file %s: %w", s.path, err)
	}
	if cred.APIKey == "" || cred.ServerURL == "" {
		return nil, fmt.Errorf("incomplete credential file %s", s.path)
	}
	return &cred, nil
}

func (s *FileStore) Save(cred *Credential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize credential file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store used by tests.
type MemoryStore struct {
	cred *Credential
}

func (s *MemoryStore) Load() (*Credential, error) {
	if s.cred == nil {
		return nil, nil
	}
	copy := *s.cred
	return &copy, nil
}

func (s *MemoryStore) Save(cred *Credential) error {
	copy := *cred
	s.cred = &copy
	return nil
}

func (s *MemoryStore) Clear() error {
	s.cred = nil
	return nil
}
