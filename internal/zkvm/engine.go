package zkvm

import (
	"context"
	"errors"

	"github.com/roach88/poam/internal/ir"
)

var (
	// ErrVerificationFailed is wrapped by every Verify failure.
	ErrVerificationFailed = errors.New("zkvm: verification failed")

	// ErrAssumptionRejected is returned by Execute when an assumption
	// receipt does not verify, or when a guest asks for a claim that was
	// not supplied.
	ErrAssumptionRejected = errors.New("zkvm: assumption rejected")

	// ErrGuestFailed wraps errors and panics raised by a guest program.
	ErrGuestFailed = errors.New("zkvm: guest failed")

	// ErrVerifyOnly is returned by Execute on a verifying-only engine.
	ErrVerifyOnly = errors.New("zkvm: engine cannot prove")
)

// Engine executes guests and verifies their receipts. Implementations must
// be safe for concurrent independent calls.
type Engine interface {
	Execute(ctx context.Context, req ExecRequest) (*Receipt, error)
	Verify(r *Receipt, imageID ir.Fingerprint) error
}

// ExecRequest is one guest execution: the program, its serialized inputs
// in read order, and the receipts it may rely on.
type ExecRequest struct {
	Binary      *Binary
	Inputs      [][]byte
	Assumptions []*Receipt
}

// Program is a guest entry point.
type Program func(env *Env) error

// Binary is a guest program and the identity it is proven under.
type Binary struct {
	Name    string
	Version string
	Program Program
}

// ImageID returns the guest's fingerprint.
func (b *Binary) ImageID() ir.Fingerprint {
	return ir.GuestFingerprint(b.Name, b.Version)
}
