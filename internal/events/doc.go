// Package events defines queue lifecycle events and the fan-out that
// delivers them to handlers.
//
// Emission is fire and forget. Queue operations never block on, and never
// fail because of, event delivery: events are buffered and dispatched from
// a background goroutine, and are dropped with a warning when the buffer
// is full.
package events
