package prover

import (
	"fmt"

	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// Outcome is the result of verifying a receipt. Journal is set only for
// valid receipts; Reason explains an invalid one.
type Outcome struct {
	Valid   bool
	Journal []byte
	Reason  string
}

// Verifier checks receipts against expected image IDs.
type Verifier struct {
	engine zkvm.Engine
}

// NewVerifier returns a verifier over engine.
func NewVerifier(engine zkvm.Engine) *Verifier {
	return &Verifier{engine: engine}
}

// Verify never fails: an invalid receipt is a negative Outcome.
func (v *Verifier) Verify(r *zkvm.Receipt, expected ir.Fingerprint) Outcome {
	if err := v.engine.Verify(r, expected); err != nil {
		return Outcome{Reason: err.Error()}
	}
	return Outcome{Valid: true, Journal: r.Journal}
}

// VerifyBytes verifies wire-form input. Only a wrong-length image ID or
// undecodable receipt bytes fail, with MALFORMED_INPUT.
func (v *Verifier) VerifyBytes(imageID []uint32, receipt []byte) (Outcome, error) {
	fp, err := ir.FingerprintFromWords(imageID)
	if err != nil {
		return Outcome{}, newError(ErrCodeMalformedInput, "image id", err)
	}
	r, err := zkvm.DecodeReceipt(receipt)
	if err != nil {
		return Outcome{}, newError(ErrCodeMalformedInput, "receipt", err)
	}
	return v.Verify(r, fp), nil
}

// VerifyProof is VerifyBytes over a wire proof.
func (v *Verifier) VerifyProof(p ir.Proof) (Outcome, error) {
	return v.VerifyBytes(p.ImageID, p.Receipt)
}

// DecodeOutput decodes a valid outcome's journal into T.
func DecodeOutput[T any](o Outcome) (T, error) {
	var out T
	if !o.Valid {
		return out, fmt.Errorf("prover: no output for an invalid receipt")
	}
	if err := zkvm.Unmarshal(o.Journal, &out); err != nil {
		return out, newError(ErrCodeMalformedInput, "journal", err)
	}
	return out, nil
}
