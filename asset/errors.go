/*
errors.go - Error taxonomy for the asset engine

PURPOSE:
  Every operation fails in one of five ways, and callers (the HTTP layer,
  the scheduler summary, tests) need to tell them apart with errors.Is:

    ErrValidation   - input is malformed or violates a field rule      (400)
    ErrConflict     - another record already holds the resource         (409)
    ErrPrecondition - the asset's current state forbids the transition  (422)
    ErrCalculation  - depreciation could not be computed for a period
    ErrNotFound     - a referenced asset, record or directory entry is missing

  Structured errors carry context and unwrap to their sentinel.

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
  - depreciation/scheduler.go: collects CalculationError per asset
*/
package asset

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrPrecondition = errors.New("precondition failed")
	ErrCalculation  = errors.New("depreciation calculation failed")
	ErrNotFound     = errors.New("not found")

	// ErrDuplicatePeriod is returned by stores when a ledger entry for the
	// same (asset, period) already exists. It is also a conflict.
	ErrDuplicatePeriod = errors.New("depreciation period already posted")

	// ErrStaleWrite is returned when an asset update loses an optimistic
	// version check. It is also a conflict.
	ErrStaleWrite = errors.New("asset was modified concurrently")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field problem found in one pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns nil when no field problem was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid is a one-field ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// ConflictError means another record already holds what the caller asked for.
type ConflictError struct {
	Resource   string // "deployment", "transfer", "asset_code", ...
	AssetID    AssetID
	ExistingID string
	Message    string
	Cause      error
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "conflicting " + e.Resource
	}
	if e.ExistingID != "" {
		msg += " (existing: " + e.ExistingID + ")"
	}
	return msg
}

func (e *ConflictError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConflict, e.Cause}
	}
	return []error{ErrConflict}
}

// PreconditionError means the asset or record is in the wrong state.
type PreconditionError struct {
	Rule    string
	AssetID AssetID
	Status  string
	Message string
}

func (e *PreconditionError) Error() string {
	if e.AssetID != "" {
		return fmt.Sprintf("%s (asset %s): %s", e.Rule, e.AssetID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// CalculationError means one period of one asset could not be depreciated.
type CalculationError struct {
	AssetID AssetID
	Method  Method
	Reason  string
	Cause   error
}

func (e *CalculationError) Error() string {
	msg := fmt.Sprintf("depreciation of %s (%s): %s", e.AssetID, e.Method, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CalculationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrCalculation, e.Cause}
	}
	return []error{ErrCalculation}
}

// NotFoundError names what was missing.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleWrite)
}

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrNotFound)
}
