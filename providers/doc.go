// Package providers holds the bank integrations and the small HTTP helper
// they share. Each bank lives in its own package and exposes a Config, a
// connector constructor for its auth protocol and a provider that issues
// calls through a core.Executor.
package providers
