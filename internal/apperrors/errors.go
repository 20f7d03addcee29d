// Package apperrors holds the error taxonomy shared by the service, the
// orchestrator and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an automation (or a row it owns) does not
	// exist or belongs to another user.
	ErrNotFound = errors.New("not found")

	// ErrImmutableField is returned when an update tries to change a field
	// that is fixed after creation.
	ErrImmutableField = errors.New("field cannot be changed after creation")

	// ErrAutomationBusy is returned when a run is requested while another run
	// of the same automation is in flight.
	ErrAutomationBusy = errors.New("automation is already processing comments")

	// ErrAutomationInactive is returned when a run is requested for a paused
	// or archived automation.
	ErrAutomationInactive = errors.New("automation is not active")
)

// ValidationError reports bad input rejected at the boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DeliveryError wraps a failed gateway send. Temporary failures are retried
// by the orchestrator until the attempt budget runs out.
type DeliveryError struct {
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsRetryable reports whether a send error is worth another attempt.
// Errors that are not DeliveryErrors (transport failures) are retryable.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return err != nil
}
