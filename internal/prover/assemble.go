package prover

import (
	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// Input is an assembled proving input for a processing guest.
type Input struct {
	// Poam is the bundle the guest evaluates.
	Poam *conformance.PoamInput

	// Inputs are the serialized guest inputs in read order.
	Inputs [][]byte

	// Assumptions holds the prior receipt when chaining.
	Assumptions []*zkvm.Receipt
}

// Assemble builds the proving input for one round. When prior is set it
// is registered as an assumption and its journal becomes the round's
// public data; it must be the receipt of md's previous guest.
func Assemble(payload ir.OperationRequest, md *conformance.Metadata, prior *zkvm.Receipt) (*Input, error) {
	if err := md.Validate(); err != nil {
		return nil, newError(ErrCodeSerialization, "invalid conformance metadata", err)
	}

	in := &Input{Poam: &conformance.PoamInput{ImageID: md.CurrentImageID, Metadata: md}}
	switch {
	case md.PreviousImageID == nil && prior != nil:
		return nil, newError(ErrCodeSerialization, "prior receipt supplied for a first round", nil)
	case md.PreviousImageID != nil && prior == nil:
		return nil, newError(ErrCodeSerialization, "chained round requires the prior receipt", nil)
	case prior != nil:
		if prior.ImageID != *md.PreviousImageID {
			return nil, &Error{
				Code:    ErrCodeSerialization,
				Message: "prior receipt is not from previous_image_id",
				ImageID: prior.ImageID.Short(),
			}
		}
		var j ir.Journal
		if err := prior.DecodeJournal(&j); err != nil {
			return nil, newError(ErrCodeSerialization, "prior journal", err)
		}
		in.Poam.PublicData = &j
		in.Assumptions = []*zkvm.Receipt{prior}
	}

	inputs, err := guest.ProcessingInputs(payload, in.Poam)
	if err != nil {
		return nil, newError(ErrCodeSerialization, "encode guest input", err)
	}
	in.Inputs = inputs
	return in, nil
}
