// Package handlers implements the JSON API over the moderation engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"forummod/internal/aimod"
	"forummod/internal/moderation"
)

// Handler contains all HTTP handler methods and their dependencies.
// Dependencies are injected via the constructor for better testability.
type Handler struct {
	svc      *moderation.Service
	validate *validator.Validate

	// reviewer is optional; see SetReviewer.
	reviewer *aimod.Moderator
}

// NewHandler creates a new Handler backed by the moderation service.
func NewHandler(svc *moderation.Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// errorResponse is the uniform error body. Kind is a stable machine-readable
// discriminator; Field is set for validation errors only.
type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// writeError maps service errors onto HTTP statuses. Unknown errors become
// opaque 500s: internals never leak into response bodies.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *moderation.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation_error",
			Field:   validationErr.Field,
			Message: validationErr.Message,
		})
		return
	}

	var notFoundErr *moderation.NotFoundError
	if errors.As(err, &notFoundErr) {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   "not_found",
			Message: notFoundErr.Error(),
		})
		return
	}

	log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "internal_error",
		Message: "internal server error",
	})
}

// decodeBody parses and validates a JSON request body. A false return means
// the error response has already been written.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_json",
			Message: "request body must be valid JSON",
		})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "validation_error",
				Field:   invalid[0].Field(),
				Message: "failed on '" + invalid[0].Tag() + "' validation",
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return false
	}
	return true
}
