package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/nestorgt/go-settlement/core"
)

// SealedCredentialCache encrypts token fields before they reach the wrapped
// cache. Plaintext tokens written before sealing was enabled still load and
// are sealed on the next save.
type SealedCredentialCache struct {
	inner  core.CredentialCache
	sealer *Sealer
}

func NewSealedCredentialCache(inner core.CredentialCache, sealer *Sealer) (*SealedCredentialCache, error) {
	if inner == nil {
		return nil, fmt.Errorf("security: credential cache is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("security: sealer is required")
	}
	return &SealedCredentialCache{inner: inner, sealer: sealer}, nil
}

func (c *SealedCredentialCache) Load(ctx context.Context) (core.Credential, bool, error) {
	cred, found, err := c.inner.Load(ctx)
	if err != nil || !found {
		return cred, found, err
	}
	if cred.AccessToken, err = c.open(cred.AccessToken); err != nil {
		return core.Credential{}, false, err
	}
	if cred.RefreshToken, err = c.open(cred.RefreshToken); err != nil {
		return core.Credential{}, false, err
	}
	return cred, true, nil
}

func (c *SealedCredentialCache) Save(ctx context.Context, cred core.Credential) error {
	sealed := cred.Clone()
	var err error
	if sealed.AccessToken, err = c.seal(cred.AccessToken); err != nil {
		return err
	}
	if sealed.RefreshToken, err = c.seal(cred.RefreshToken); err != nil {
		return err
	}
	return c.inner.Save(ctx, sealed)
}

func (c *SealedCredentialCache) seal(value string) (string, error) {
	if strings.TrimSpace(value) == "" || IsSealed(value) {
		return value, nil
	}
	out, err := c.sealer.Seal([]byte(value))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *SealedCredentialCache) open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	out, err := c.sealer.Open([]byte(value))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ core.CredentialCache = (*SealedCredentialCache)(nil)
