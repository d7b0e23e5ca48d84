// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between producers and
// consumers on one side and the task and dispatch services on the other,
// translating HTTP concerns to business operations.
package api
