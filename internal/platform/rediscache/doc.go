// Package rediscache provides the best-effort cache tier over Redis.
//
// The cache is never authoritative. Callers write to the durable store
// first and treat every cache failure as a degradation, not an error:
// a miss or an unreachable Redis falls through to the durable tier.
package rediscache
