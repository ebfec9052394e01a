package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/logger"
)

// maxRequestBodyBytes bounds every JSON request body
const maxRequestBodyBytes = 1 << 20

// WriteJSONError writes a JSON error response with the given message and status code.
// It sets the Content-Type header to application/json and automatically formats
// the response as {"error": "message"}.
func WriteJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes a JSON response with the given status code and data.
// It sets the Content-Type header to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(v)
}

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	var (
		validationErr domain.ValidationError
		notFound      *domain.ErrNotFound
		nameTaken     *domain.ErrColumnNameTaken
		inactive      *domain.ErrColumnInactive
		rateLimited   *domain.ErrRateLimited
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &nameTaken), errors.As(err, &inactive):
		return http.StatusConflict
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and replaced by message so storage details never reach the client.
func writeServiceError(w http.ResponseWriter, log logger.Logger, err error, message string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.WithField("error", err.Error()).Error(message)
		WriteJSONError(w, message, status)
		return
	}
	WriteJSONError(w, err.Error(), status)
}

// ownerID returns the authenticated user id set by the auth middleware
func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := domain.UserIDFromContext(r.Context())
	if !ok {
		WriteJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name + " must be an integer")
	}
	return v, nil
}
