// Package guest contains the programs proven by the engine: one processing
// guest per arithmetic operation and the composition guest.
//
// Processing guests are the ground truth for conformance. They verify the
// prior round's receipt as an assumption, check the supplied metadata
// continues that round's checkpoint, and run the same rule evaluation the
// host runs before proving.
package guest

import (
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// Version is the version every built-in guest is fingerprinted with.
const Version = "1"

// CompositeName is the name of the composition guest.
const CompositeName = "poam.composite"

var (
	// ErrWrongGuest is returned when the input names another guest.
	ErrWrongGuest = errors.New("guest: input is for a different guest")

	// ErrOperationMismatch is returned when the payload operation does not
	// match the guest.
	ErrOperationMismatch = errors.New("guest: operation does not match guest")

	// ErrNoConstituents is returned by the composition guest for empty input.
	ErrNoConstituents = errors.New("guest: nothing to compose")
)

// Processing returns the processing guest for op.
func Processing(op ir.Operation) *zkvm.Binary {
	return &zkvm.Binary{Name: op.GuestName(), Version: Version, Program: processing(op)}
}

// Composite returns the composition guest.
func Composite() *zkvm.Binary {
	return &zkvm.Binary{Name: CompositeName, Version: Version, Program: composite}
}

// All returns every built-in guest: the processing guests in operation
// order, then the composition guest.
func All() []*zkvm.Binary {
	out := make([]*zkvm.Binary, 0, len(ir.Operations)+1)
	for _, op := range ir.Operations {
		out = append(out, Processing(op))
	}
	return append(out, Composite())
}

// ProcessingInputs returns the serialized inputs a processing guest reads,
// in order: the operation payload, then the POAM input.
func ProcessingInputs(req ir.OperationRequest, in *conformance.PoamInput) ([][]byte, error) {
	payload, err := zkvm.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	poam, err := zkvm.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode poam input: %w", err)
	}
	return [][]byte{payload, poam}, nil
}

func processing(op ir.Operation) zkvm.Program {
	self := ir.GuestFingerprint(op.GuestName(), Version)
	return func(env *zkvm.Env) error {
		var req ir.OperationRequest
		if err := env.Read(&req); err != nil {
			return err
		}
		var in conformance.PoamInput
		if err := env.Read(&in); err != nil {
			return err
		}

		if parsed, err := ir.ParseOperation(req.Operation); err != nil || parsed != op {
			return fmt.Errorf("%w: %q", ErrOperationMismatch, req.Operation)
		}
		if err := in.Validate(); err != nil {
			return err
		}
		if in.ImageID != self {
			return fmt.Errorf("%w: %s", ErrWrongGuest, in.ImageID.Short())
		}

		if in.PublicData != nil {
			if err := env.VerifyAssumptionValue(*in.Metadata.PreviousImageID, *in.PublicData); err != nil {
				return err
			}
			prior, err := in.PriorCheckpoint()
			if err != nil {
				return err
			}
			if err := in.Metadata.Continues(prior); err != nil {
				return err
			}
		}

		if err := in.Metadata.Evaluate().Err(); err != nil {
			return err
		}
		result, err := op.Apply(req.A, req.B)
		if err != nil {
			return err
		}
		cp, err := in.Metadata.Advance()
		if err != nil {
			return err
		}
		meta, err := cp.Encode()
		if err != nil {
			return err
		}
		return env.Commit(ir.Journal{Result: ir.FormatResult(result), Metadata: meta})
	}
}
