package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"NotFound wraps ErrNotFound", NotFound("button", 7), ErrNotFound, true},
		{"ValidationFailed wraps ErrValidation", ValidationFailed("days", "days must be positive"), ErrValidation, true},
		{"Conflict wraps ErrConflict", Conflict("username already taken"), ErrConflict, true},
		{"Forbidden wraps ErrForbidden", Forbidden("Admin access required"), ErrForbidden, true},
		{"Unauthorized wraps ErrUnauthorized", Unauthorized("Not authenticated"), ErrUnauthorized, true},
		{"NotFound does not match ErrValidation", NotFound("user", 42), ErrValidation, false},
		{"Unauthorized does not match ErrForbidden", Unauthorized("Not authenticated"), ErrForbidden, false},
		{
			name:      "wrapped twice still matches",
			err:       fmt.Errorf("service/admin: restoring: %w", fmt.Errorf("sqlite: %w", NotFound("uploaded", 3))),
			target:    ErrNotFound,
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{"NotFound formats resource and id", NotFound("user", int64(42)), "user not found with id 42"},
		{"NotFound accepts string ids", NotFound("session", "abc"), "session not found with id abc"},
		{"ValidationFailed keeps message", ValidationFailed("username", "username must be at least 3 characters"), "username must be at least 3 characters"},
		{"Conflict keeps message", Conflict("button already restored"), "button already restored"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestAs_ExtractsMessageThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", Forbidden("Super admin access required"))

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As() did not find *AppError")
	}
	if appErr.Message != "Super admin access required" {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("order", "order must list every linked button exactly once")
	if err.Field != "order" {
		t.Errorf("Field = %q, want %q", err.Field, "order")
	}
}
