// Package notify fans transfer notifications out to delivery channels and
// reports per channel outcomes. A failed notification never affects the
// operation that triggered it.
package notify
