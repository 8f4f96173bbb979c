package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/rules"
)

// ErrorCode identifies a prover failure.
type ErrorCode string

const (
	// ErrCodeUnknownFingerprint indicates no guest is registered for an image ID.
	ErrCodeUnknownFingerprint ErrorCode = "UNKNOWN_FINGERPRINT"

	// ErrCodeMalformedRules indicates a rule set failed validation.
	ErrCodeMalformedRules ErrorCode = "MALFORMED_RULES"

	// ErrCodeSerialization indicates metadata or a prior receipt could not
	// be shaped into guest input.
	ErrCodeSerialization ErrorCode = "SERIALIZATION_ERROR"

	// ErrCodeEngineFailure indicates the engine could not produce a receipt.
	ErrCodeEngineFailure ErrorCode = "ENGINE_FAILURE"

	// ErrCodeEmptyInput indicates Compose was called with no receipts.
	ErrCodeEmptyInput ErrorCode = "EMPTY_INPUT"

	// ErrCodeAssumptionRejected indicates a constituent receipt could not
	// be discharged as an assumption.
	ErrCodeAssumptionRejected ErrorCode = "ASSUMPTION_REJECTED"

	// ErrCodeMalformedInput indicates undecodable receipt bytes or a
	// wrong-length fingerprint.
	ErrCodeMalformedInput ErrorCode = "MALFORMED_INPUT"
)

// Category groups error codes by how a caller recovers from them.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryConformance   Category = "conformance"
	CategoryEngine        Category = "engine"
	CategoryMalformed     Category = "malformed"
	CategoryCancelled     Category = "cancelled"
	CategoryInternal      Category = "internal"
)

var categories = map[ErrorCode]Category{
	ErrCodeUnknownFingerprint: CategoryConfiguration,
	ErrCodeMalformedRules:     CategoryConfiguration,
	ErrCodeSerialization:      CategoryConfiguration,
	ErrCodeEmptyInput:         CategoryConfiguration,
	ErrCodeEngineFailure:      CategoryEngine,
	ErrCodeAssumptionRejected: CategoryEngine,
	ErrCodeMalformedInput:     CategoryMalformed,
}

// Error is a prover failure.
type Error struct {
	// Code identifies the failure.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ImageID is the guest involved, when known (short hex).
	ImageID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ImageID != "" {
		msg += fmt.Sprintf(" (image=%s)", e.ImageID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Category returns the error's category.
func (e *Error) Category() Category {
	if c, ok := categories[e.Code]; ok {
		return c
	}
	return CategoryInternal
}

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the code of a wrapped *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsUnknownFingerprint returns true for UNKNOWN_FINGERPRINT errors.
func IsUnknownFingerprint(err error) bool { return hasCode(err, ErrCodeUnknownFingerprint) }

// IsEngineFailure returns true for ENGINE_FAILURE errors.
func IsEngineFailure(err error) bool { return hasCode(err, ErrCodeEngineFailure) }

// IsAssumptionRejected returns true for ASSUMPTION_REJECTED errors.
func IsAssumptionRejected(err error) bool { return hasCode(err, ErrCodeAssumptionRejected) }

// IsMalformedInput returns true for MALFORMED_INPUT errors.
func IsMalformedInput(err error) bool { return hasCode(err, ErrCodeMalformedInput) }

// CategoryOf classifies any error returned by this package or the
// service built on it.
func CategoryOf(err error) Category {
	var pe *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Category()
	case rules.IsRejection(err):
		return CategoryConformance
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	}
	return CategoryInternal
}
