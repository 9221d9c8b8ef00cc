package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/wonny/cyclebot/internal/contracts"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var execErr *contracts.ExecutionError
	var persistErr *contracts.PersistenceError
	var feedErr *contracts.FeedError

	switch {
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrTombstoned):
		return http.StatusGone
	case errors.Is(err, contracts.ErrInFlight),
		errors.Is(err, contracts.ErrAlreadyHeld),
		errors.Is(err, contracts.ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.As(err, &execErr), errors.As(err, &feedErr):
		return http.StatusBadGateway
	case errors.As(err, &persistErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
