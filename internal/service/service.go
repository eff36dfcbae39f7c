// Package service contains the business rules of the soundboard.
//
// Handlers parse HTTP and call a service; services validate, enforce the
// rules and call the repositories:
//
//	Handler (HTTP) → Service (rules) → Repository (SQLite)
//	                          ↘ storage.Store (media on disk)
//
// Services never see an http.Request. Errors they return are either
// *apperror.AppError values, which the handlers map to status codes, or
// wrapped persistence errors, which become a generic 500.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/storage"
)

// Validation bounds.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6

	MinButtonSize = 50
	MaxButtonSize = 500

	MaxButtonNameLength = 100

	DefaultMostPlayedLimit = 20
	MaxMostPlayedLimit     = 1000
)

// storageError turns a rejected upload into a validation error on field.
// Other storage failures are returned wrapped.
func storageError(field string, err error) error {
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return apperror.ValidationFailed(field, "File too large")
	case errors.Is(err, storage.ErrUnsupportedType):
		return apperror.ValidationFailed(field, "Unsupported file type")
	case errors.Is(err, storage.ErrBadFilename):
		return apperror.ValidationFailed(field, "Invalid file name")
	}
	return fmt.Errorf("storing %s: %w", field, err)
}

// removeFile deletes stored media whose row is already gone. Failures are
// logged, not returned.
func removeFile(files storage.Store, logger *slog.Logger, kind storage.Kind, filename string) {
	if filename == "" {
		return
	}
	if _, err := files.Delete(kind, filename); err != nil {
		logger.Warn("failed to remove stored file",
			slog.String("kind", string(kind)),
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}
}
