package models

import "errors"

// Error classes shared by the ledger, the coordinator and the HTTP layer.
// Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("concurrent write conflict")
	ErrRetryExhausted     = errors.New("retry attempts exhausted")
	ErrAuthorization      = errors.New("not authorized")
	ErrNotFound           = errors.New("record not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvariantViolation = errors.New("invariant violation")
)
