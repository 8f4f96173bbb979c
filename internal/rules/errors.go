package rules

import (
	"errors"
	"fmt"
)

// ViolationCode categorizes a conformance rejection.
type ViolationCode string

const (
	// CodePrecedence indicates a required preceding guest was never proven.
	CodePrecedence ViolationCode = "PRECEDENCE_VIOLATION"

	// CodeCardinality indicates a candidate's prior count is out of bounds.
	CodeCardinality ViolationCode = "CARDINALITY_VIOLATION"
)

// RejectionError wraps a Violation so it can travel as an error value.
// A rejection is a normal negative outcome, not a fault.
type RejectionError struct {
	Violation Violation
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Violation.Code, e.Violation.Message())
}

// IsRejection returns true if err is a conformance rejection.
// Uses errors.As to handle wrapped errors.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// ViolationOf extracts the violation from a rejection error.
func ViolationOf(err error) (Violation, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Violation, true
	}
	return Violation{}, false
}
