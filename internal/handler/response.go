package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "user not found with id abc123"}
//
// Validation errors also name the offending field:
//   {"error": "validation_error", "message": "username is required", "field": "username"}

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/microblog/internal/apperror"
)

// maxBodyBytes caps JSON request bodies. The largest legitimate body is a
// registration, well under this.
const maxBodyBytes = 64 << 10

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Set for validation and duplicate-key errors
}

// MessageResponse is the body of requests that succeed without returning data.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be written BEFORE the body. Once Encode writes,
// later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and machine-readable type.
//
// errors.Is walks the whole chain, so this works on errors the service has
// wrapped with fmt.Errorf("...: %w", err):
//
//	service returns: fmt.Errorf("registering user: %w", apperror.DuplicateKey(...))
//	errors.Is walks: outer error → AppError → ErrDuplicateKey ✓ match!
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrDuplicateKey):
		return http.StatusConflict, "duplicate_key"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// Only AppError messages reach the client. Anything else, and every 5xx, gets
// a generic message: raw errors can carry SQL, file paths or driver details.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, errorType := errorStatus(err)

	resp := ErrorResponse{Error: errorType, Message: "An internal error occurred"}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}

	switch {
	case status == http.StatusServiceUnavailable:
		resp.Message = "The service is temporarily unavailable, try again later"
		logger.Warn("storage unavailable", slog.String("error", err.Error()))
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", slog.String("error", err.Error()))
	}

	writeJSON(w, status, resp)
}

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("body", "request body is too large")
		}
		return apperror.ValidationFailed("body", "request body must be a single JSON object")
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must be a single JSON object")
	}
	return nil
}

// pageParams reads ?limit= and ?offset=. Absent values are zero, which the
// storage layer turns into its default page size.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}

// streamNDJSON writes seq as newline-delimited JSON, flushing after each line.
//
// Once the first line is out the status is committed; a failure after that
// can only be logged under msg, and the client sees a truncated stream.
func streamNDJSON[T any](w http.ResponseWriter, logger *slog.Logger, seq iter.Seq2[T, error], msg string, attrs ...any) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	wrote := false

	for item, err := range seq {
		if err != nil {
			if !wrote {
				w.Header().Del("Content-Type")
				writeError(w, logger, err)
				return
			}
			logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
			return
		}
		if err := enc.Encode(item); err != nil {
			// Client went away.
			return
		}
		wrote = true
		_ = rc.Flush()
	}

	if !wrote {
		w.WriteHeader(http.StatusOK)
	}
}
