// Package deadletter persists references to tasks that exhausted their
// retry budget. The archive is an append-mostly log kept outside the
// relational tier so operators can inspect failures even when the
// database is the thing that was failing.
package deadletter
