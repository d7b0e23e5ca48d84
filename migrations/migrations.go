// Package migrations carries the goose migration files for the postgres
// durable tier, embedded so the server binary can apply them without a
// checkout of the repository.
package migrations

import "embed"

// FS holds the SQL migration files in goose naming order.
//
//go:embed *.sql
var FS embed.FS
