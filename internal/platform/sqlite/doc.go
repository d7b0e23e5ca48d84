// Package sqlite implements the durable-tier store interfaces on an embedded
// SQLite database via sqlx. It serves single-node deployments and tests; the
// postgres package is the production backend.
package sqlite
