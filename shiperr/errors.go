// Package shiperr defines the error taxonomy of the self-registration agent.
//
// Every error carries a machine-readable code so callers can tell a bad
// configuration from a failed naming-service call or a failed admin notification.
package shiperr

import (
	"errors"
	"fmt"
)

const (
	// ErrConfiguration means a required configuration field is missing or invalid.
	ErrConfiguration = "configuration_error"
	// ErrRegistration means the naming service rejected or failed a register call.
	ErrRegistration = "registration_error"
	// ErrNotification means the admin backend could not be notified.
	ErrNotification = "notification_error"
	// ErrInternal means anything else went wrong inside the agent.
	ErrInternal = "internal_error"
)

// ShipError is an error with a code, a human-readable message and an optional cause.
type ShipError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Inner   error  `json:"-"`
}

// New creates a ShipError.
func New(code string, message string, inner error) *ShipError {
	return &ShipError{
		Code:    code,
		Message: message,
		Inner:   inner,
	}
}

func NewConfigurationError(message string, inner error) *ShipError {
	return New(ErrConfiguration, message, inner)
}

// NewRegistrationError reports a failed naming-service registration of serviceName.
func NewRegistrationError(serviceName string, inner error) *ShipError {
	return New(ErrRegistration, fmt.Sprintf("register %q to naming service failed", serviceName), inner)
}

func NewNotificationError(message string, inner error) *ShipError {
	return New(ErrNotification, message, inner)
}

// NewInternalError keeps the code of inner when it already is a ShipError.
func NewInternalError(message string, inner error) *ShipError {
	if shipInner := ToShipError(inner); shipInner != nil {
		return shipInner
	}
	return New(ErrInternal, message, inner)
}

func (e ShipError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s %s: %v", e.Code, e.Message, e.Inner)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e ShipError) Unwrap() error {
	return e.Inner
}

// ToShipError returns the first ShipError in err's chain, or nil.
func ToShipError(err error) *ShipError {
	var e *ShipError
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Code returns the code of err, or "" when err is not a ShipError.
func Code(err error) string {
	if e := ToShipError(err); e != nil {
		return e.Code
	}
	return ""
}

func Is(err error, code string) bool {
	return Code(err) == code && code != ""
}

func IsConfigurationError(err error) bool {
	return Is(err, ErrConfiguration)
}

func IsRegistrationError(err error) bool {
	return Is(err, ErrRegistration)
}

func IsNotificationError(err error) bool {
	return Is(err, ErrNotification)
}
