// Package service provides the application-level services that compose the
// durable store, the cache tier, and the dispatch queue into the operations
// the HTTP API exposes.
//
// TaskService owns the two-tier read/write policy: the durable store is the
// authority for task content and status, and the cache is a best-effort
// read accelerator whose failures are logged and swallowed. DispatchService
// layers the queue on top of the store, keeping task status in step with
// queue activity (claimed tasks move to in_progress, requeued tasks back to
// pending, dead-lettered tasks to failed).
package service
