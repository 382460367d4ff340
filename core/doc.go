// Package core holds the settlement domain model, the provider and
// credential contracts, the error taxonomy and configuration. Connectors,
// transports, providers and stores depend on this package; core depends on
// none of them.
package core
