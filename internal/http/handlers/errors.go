// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// The constants below form a stable, machine-readable error taxonomy that
// supplements the human-readable message in the envelope written by fail().
// Codes are lowercase snake_case; generic ones mirror their HTTP status
// semantics, while the domain-specific ones flag business-logic failures the
// status alone cannot convey. Clients branch on the code, not the message.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "condition already armed"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeArmFailed        = "arm_failed"
	ErrCodeDisarmFailed     = "disarm_failed"
	ErrCodeCheckInFailed    = "check_in_failed"
	ErrCodeUpdateFailed     = "update_failed"
	ErrCodeDispatchFailed   = "dispatch_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
