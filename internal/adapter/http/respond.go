package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	sharedobs.WriteJSON(w, status, v)
}

// writeError maps domain errors to status codes. Unexpected errors are logged
// and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	case http.StatusUnauthorized:
		msg = "authentication required"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", domain.ErrValidation, err)
	}
	return nil
}
