package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nestorgt/go-settlement/core"
)

type fileCacheRecord struct {
	ProviderID   string          `json:"provider_id"`
	AuthMethod   core.AuthMethod `json:"auth_method"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	SavedAt      time.Time       `json:"saved_at"`
}

// FileCache persists one credential as JSON. Writes go to a temp file in the
// same directory which is synced and renamed over the target.
type FileCache struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileCache(path string) *FileCache {
	return &FileCache{
		path: strings.TrimSpace(path),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewProviderFileCache places the cache file for providerID under dir.
func NewProviderFileCache(dir string, providerID string) *FileCache {
	return NewFileCache(filepath.Join(strings.TrimSpace(dir), strings.TrimSpace(providerID)+".json"))
}

func (c *FileCache) Path() string {
	return c.path
}

func (c *FileCache) Load(_ context.Context) (core.Credential, bool, error) {
	if c == nil || c.path == "" {
		return core.Credential{}, false, fmt.Errorf("broker: credential cache path is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Credential{}, false, nil
	}
	if err != nil {
		return core.Credential{}, false, fmt.Errorf("broker: read credential cache: %w", err)
	}
	record := fileCacheRecord{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return core.Credential{}, false, fmt.Errorf("broker: decode credential cache %s: %w", c.path, err)
	}
	cred := core.Credential{
		ProviderID:   record.ProviderID,
		AuthMethod:   record.AuthMethod,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    record.ExpiresAt,
	}
	if cred.IsZero() {
		return core.Credential{}, false, nil
	}
	return cred.Clone(), true, nil
}

func (c *FileCache) Save(_ context.Context, cred core.Credential) error {
	if c == nil || c.path == "" {
		return fmt.Errorf("broker: credential cache path is required")
	}
	raw, err := json.MarshalIndent(fileCacheRecord{
		ProviderID:   cred.ProviderID,
		AuthMethod:   cred.AuthMethod,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		SavedAt:      c.now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("broker: encode credential cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFileAtomic(c.path, raw, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("broker: create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("broker: create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("broker: write temp cache file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("broker: chmod temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("broker: sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("broker: close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("broker: replace cache file: %w", err)
	}
	return nil
}

// MemoryCache keeps the credential in process. Used when no cache dir is
// configured and in tests.
type MemoryCache struct {
	mu    sync.Mutex
	cred  core.Credential
	saved bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load(context.Context) (core.Credential, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.saved {
		return core.Credential{}, false, nil
	}
	return c.cred.Clone(), true, nil
}

func (c *MemoryCache) Save(_ context.Context, cred core.Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred.Clone()
	c.saved = true
	return nil
}

var (
	_ core.CredentialCache = (*FileCache)(nil)
	_ core.CredentialCache = (*MemoryCache)(nil)
)
