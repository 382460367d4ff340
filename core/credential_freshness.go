package core

import (
	"strings"
	"time"
)

const (
	// DefaultExpiryBuffer is the minimum safety margin before ExpiresAt.
	DefaultExpiryBuffer = 5 * time.Minute
)

// CredentialTokenState captures access and refresh lifecycle state derived
// from a credential.
type CredentialTokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveCredentialTokenState evaluates expiry flags for a credential.
func ResolveCredentialTokenState(now time.Time, credential Credential, buffer time.Duration) CredentialTokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	buffer = NormalizeExpiryBuffer(buffer)

	state := CredentialTokenState{
		HasAccessToken:  strings.TrimSpace(credential.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(credential.RefreshToken) != "",
	}
	if credential.ExpiresAt == nil {
		return state
	}
	expiresAt := credential.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(buffer))
	return state
}

// CredentialNeedsRenewal reports whether a credential is missing, expired or
// inside the buffer. Credentials without an expiry never need renewal.
func CredentialNeedsRenewal(now time.Time, credential Credential, buffer time.Duration) bool {
	state := ResolveCredentialTokenState(now, credential, buffer)
	if !state.HasAccessToken {
		return true
	}
	return state.IsExpired || state.IsExpiringSoon
}

// NormalizeExpiryBuffer clamps a buffer to the five minute floor.
func NormalizeExpiryBuffer(buffer time.Duration) time.Duration {
	if buffer < DefaultExpiryBuffer {
		return DefaultExpiryBuffer
	}
	return buffer
}

// ExpiryAdvanced reports whether next expires strictly after previous.
// A credential without expiry only replaces another without expiry.
func ExpiryAdvanced(previous Credential, next Credential) bool {
	if previous.ExpiresAt == nil {
		return true
	}
	if next.ExpiresAt == nil {
		return false
	}
	return next.ExpiresAt.After(*previous.ExpiresAt)
}
