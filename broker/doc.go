// Package broker caches one provider credential, renews it before expiry
// and persists it so restarts reuse a still valid token.
package broker
