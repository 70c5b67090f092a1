package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TokenStore persists the session access token between runs, the client's
// half of "the backend holds the session, we hold its handle". The file
// holds only the token — everything else is rebuilt from its claims and
// the backend on restore.
type TokenStore struct {
	path string // empty disables persistence
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// Load returns the persisted token, or "" when none is stored.
func (s *TokenStore) Load() (string, error) {
	if s.path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("token store: reading %s: %w", s.path, err)
	}

	var f tokenFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("token store: parsing %s: %w", s.path, err)
	}
	return f.AccessToken, nil
}

// Save writes the token with owner-only permissions.
func (s *TokenStore) Save(token string) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("token store: creating directory: %w", err)
	}

	raw, err := json.Marshal(tokenFile{AccessToken: token, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("token store: encoding: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("token store: writing %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the persisted token. Missing file is not an error.
func (s *TokenStore) Clear() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("token store: removing %s: %w", s.path, err)
	}
	return nil
}
