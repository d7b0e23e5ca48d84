// Package queue implements the priority dispatch queue: four strict
// priority bands with FIFO ordering inside each band, isolated
// per-consumer scopes, channel-filtered views, capacity limits, TTL
// expiry, and retry with exponential backoff ending in dead-lettering.
//
// The queue stores scheduling handles only. Task content and status live
// in the durable store; a dequeued handle is resolved back to its task by
// the caller.
package queue
