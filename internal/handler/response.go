package handler

// RESPONSE HELPERS:
// Every endpoint answers with the same envelope so the browser client can
// check one field:
//
//	{"success": true,  "message": "...", ...payload}
//	{"success": false, "message": "..."}
//
// Handlers call writeOK / writeError instead of encoding by hand.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/auth"
)

// maxJSONBody caps JSON request bodies. Uploads use multipart and their own limit.
const maxJSONBody = 1 << 20

const internalErrorMessage = "An internal error occurred"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// payload holds the fields written next to success and message.
type payload map[string]any

// writeJSON sends data with the given status code. Headers must be set
// before WriteHeader; anything set after is silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeOK sends {"success": true, "message": message, ...fields}. An empty
// message is omitted.
func writeOK(w http.ResponseWriter, status int, message string, fields payload) {
	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// statusFor maps the error taxonomy to HTTP. Anything that is not an
// *apperror.AppError is a persistence failure.
func statusFor(err error) (int, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, internalErrorMessage
	}
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, appErr.Message
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, appErr.Message
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, appErr.Message
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, appErr.Message
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, appErr.Message
	}
	return http.StatusInternalServerError, internalErrorMessage
}

// writeError logs server-side failures in full and sends the client only
// the safe message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// decodeJSON reads a JSON body into dst. Unknown fields are allowed; the
// browser client sends extra keys.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperror.ValidationFailed("body", "Invalid JSON body")
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("Invalid %s", name))
	}
	return id, nil
}

// queryInt parses an optional integer query parameter. Missing means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("%s must be a number", name))
	}
	return n, nil
}

// caller returns the authenticated principal. Routes using it sit behind
// RequireAuth, so a missing principal means the router is miswired.
func caller(r *http.Request) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil, apperror.Unauthorized("Not authenticated")
	}
	return p, nil
}

// viewerID is the caller's id, or 0 for an anonymous request.
func viewerID(r *http.Request) int64 {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return p.ID
	}
	return 0
}
