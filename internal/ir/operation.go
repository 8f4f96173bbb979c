package ir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Operation is an arithmetic operation kind. Each kind is proven by its own
// guest so fingerprints identify operation kinds.
type Operation string

const (
	OpAdd Operation = "add"
	OpSub Operation = "sub"
	OpMul Operation = "mul"
	OpDiv Operation = "div"
)

// Operations lists every supported operation in a stable order.
var Operations = []Operation{OpAdd, OpSub, OpMul, OpDiv}

var (
	// ErrUnknownOperation is returned by ParseOperation.
	ErrUnknownOperation = errors.New("ir: unknown operation")

	// ErrDivisionByZero is returned by Apply for div with b == 0.
	ErrDivisionByZero = errors.New("ir: division by zero")
)

// ParseOperation parses an operation name, case-insensitively.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// GuestName returns the name of the guest that proves this operation.
func (o Operation) GuestName() string {
	return "arith." + string(o)
}

// Apply computes a <op> b.
func (o Operation) Apply(a, b float64) (float64, error) {
	switch o {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, string(o))
}

// OperationRequest is the operation payload of a single proving round.
type OperationRequest struct {
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	Operation string  `json:"operation"`
}

// FormatResult renders a result the way guests commit it: the shortest
// decimal that round-trips.
func FormatResult(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseResult parses a committed result string.
func ParseResult(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ir: parse result %q: %w", s, err)
	}
	return v, nil
}
