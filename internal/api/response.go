package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/slaguard/slaguard/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ListResponse wraps a paginated collection.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode JSON response: %v", err)
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondValidationError writes field-level validation errors as a 400 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: "Validation failed",
		Details: fieldErrors,
	})
}

// RespondServiceError maps service-layer errors onto the error taxonomy:
// not-found to 404, forbidden to 403, conflict to 409, validation to 400,
// everything else to 500.
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrForbidden):
		RespondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, services.ErrConflict):
		RespondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		if ve, ok := services.AsValidationError(err); ok {
			RespondValidationError(w, ve.Fields)
			return
		}
		log.Printf("Internal error: %v", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

// RespondNoContent writes a 204 No Content response with no body.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
