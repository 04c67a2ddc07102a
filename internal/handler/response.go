package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//	writeJSON(w, http.StatusOK, data)
//	writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response has the same shape:
//
//	{"error": "validation_error", "message": "this username is already taken", "field": "username"}
//
// "field" is only present for validation errors tied to one input.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/auth"
)

// maxBodyBytes caps request bodies; a bio is the largest legitimate input.
const maxBodyBytes = 64 << 10

// ErrorResponse is the standard error format returned by all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input for validation errors
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation       → 400
//	ErrUnauthorized     → 401
//	ErrForbidden        → 403
//	ErrNotFound         → 404
//	ErrConflict         → 409
//	ErrInvalidOperation → 422 (e.g. vouching for someone already vouched)
//	anything else       → 500 with a generic message
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		case errors.Is(err, apperror.ErrInvalidOperation):
			status = http.StatusUnprocessableEntity
			errorType = "invalid_operation"
		}

		if status != http.StatusInternalServerError {
			writeJSON(w, status, ErrorResponse{
				Error:   errorType,
				Message: appErr.Message,
				Field:   appErr.Field,
			})
			return
		}
	}

	// Unknown error: never expose internal details (SQL, file paths) to
	// the client.
	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a size-limited JSON body into dst. Unknown fields are
// rejected so typos in field names fail loudly.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("", "request body is required")
		}
		return apperror.ValidationFailed("", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// viewerID returns the signed-in profile ID, or "" for anonymous requests.
func viewerID(r *http.Request) string {
	id, _ := auth.ProfileIDFromContext(r.Context())
	return id
}

// queryInt parses an integer query parameter. Missing or malformed values
// are 0, which the services treat as "use the default".
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return n
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// Cookies holds the attributes shared by every cookie the server sets.
type Cookies struct {
	// Secure should be true whenever the site is served over HTTPS.
	Secure bool
}

// set writes an HttpOnly, SameSite=Lax cookie. A zero ttl deletes it.
//
// HttpOnly = JavaScript cannot read this cookie (XSS protection).
// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
func (c Cookies) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl <= 0 {
		value, maxAge = "", -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
