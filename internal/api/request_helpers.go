package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskdispatch/internal/domain"
	"github.com/phrazzld/taskdispatch/internal/store"
)

// getPathUUID extracts a UUID from the URL path parameters.
// It parses and validates the UUID, handling common error cases.
//
// Parameters:
//   - r: The HTTP request
//   - paramName: The name of the path parameter to extract
//
// Returns:
//   - (uuid.UUID, nil): The parsed UUID if valid
//   - (uuid.UUID{}, error): A zero UUID and appropriate error if parameter is missing or invalid
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	// Extract parameter from URL path using chi router
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	// Parse parameter as UUID
	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}

	return id, nil
}

// parseTaskFilter builds a store filter from the list endpoint's query
// parameters: status, consumer_id, channel_id, limit, offset.
func parseTaskFilter(r *http.Request) (store.TaskFilter, error) {
	var filter store.TaskFilter
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return store.TaskFilter{}, err
		}
		filter.Status = &status
	}

	if raw := query.Get("consumer_id"); raw != "" {
		consumerID := raw
		filter.ConsumerID = &consumerID
	}

	if raw := query.Get("channel_id"); raw != "" {
		channelID := raw
		filter.ChannelID = &channelID
	}

	var err error
	if filter.Limit, err = parseQueryInt(query, "limit"); err != nil {
		return store.TaskFilter{}, err
	}
	if filter.Offset, err = parseQueryInt(query, "offset"); err != nil {
		return store.TaskFilter{}, err
	}

	return filter, nil
}

// parseQueryInt reads a non-negative integer query parameter, returning
// zero when the parameter is absent.
func parseQueryInt(query url.Values, name string) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return value, nil
}
