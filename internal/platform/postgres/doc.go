// Package postgres implements the durable-tier store interfaces using a
// PostgreSQL database accessed through database/sql with the pgx driver.
// It is the authority tier: writes here must succeed for an operation to
// be considered to have happened at all.
package postgres
