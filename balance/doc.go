// Package balance fans a balance query out to every provider and collects
// the results into a partial failure report. Providers that opt in keep a
// last good balance that is served, marked stale, while their source is down.
package balance
