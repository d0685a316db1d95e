// Package services defines the business logic for conditions, check-ins, and
// schedule reconciliation. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

var (
	// ErrConditionNotFound indicates that the requested condition does not
	// exist or is not accessible to the current user.
	ErrConditionNotFound = errors.New("condition not found")

	// ErrMessageNotFound indicates that the owning message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotActive is returned when an operation requires an armed condition
	// (e.g. panic, reminder-config edit on a live schedule).
	ErrNotActive = errors.New("condition is not armed")

	// ErrAlreadyActive is returned when arming a condition that is already
	// armed.
	ErrAlreadyActive = errors.New("condition is already armed")

	// ErrNotPanic is returned when a panic trigger is requested on a
	// condition whose type is not panic_trigger.
	ErrNotPanic = errors.New("condition is not a panic trigger")

	// ErrInvalidCheckInMethod is returned when a check-in specifies an
	// unknown delivery method.
	ErrInvalidCheckInMethod = errors.New("invalid check-in method")
)
