// services/iotcore/internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Business errors.
var (
	// Authentication errors.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("user account is inactive")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")

	// Account errors.
	ErrAccountNotFound = errors.New("user not found")
	ErrDuplicateEmail  = errors.New("email already registered")
	ErrInvalidRole     = errors.New("invalid role")
	ErrForbidden       = errors.New("forbidden")

	// Password reset errors.
	ErrInvalidOTP = errors.New("invalid or expired OTP")
	ErrOTPExpired = errors.New("OTP has expired, please request a new one")

	// Device errors.
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceAlreadyExists = errors.New("device already registered")
	ErrLastDevice          = errors.New("cannot delete the last device")

	// Telemetry errors.
	ErrMissingFilter = errors.New("at least one search parameter is required")

	// Subscription errors.
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrTankNotFound         = errors.New("tank not found")

	// External collaborator errors.
	ErrServiceUnavailable = errors.New("external service unavailable")
)

// ValidationError carries field-level validation failures.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}
