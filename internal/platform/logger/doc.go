// Package logger provides structured logging functionality for the
// application, including context propagation so request-scoped loggers
// (carrying trace IDs and component fields) flow through call chains.
package logger
