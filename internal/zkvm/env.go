package zkvm

import (
	"errors"
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

var (
	// ErrNoInput is returned by Read once every input was consumed.
	ErrNoInput = errors.New("zkvm: no more input")

	// ErrJournalCommitted is returned by a second Commit.
	ErrJournalCommitted = errors.New("zkvm: journal already committed")
)

// Env is the guest's view of an execution.
type Env struct {
	inputs    [][]byte
	pos       int
	journal   []byte
	committed bool
	available map[Claim]bool
	used      []Claim
}

func newEnv(inputs [][]byte, available []Claim) *Env {
	env := &Env{inputs: inputs, available: make(map[Claim]bool, len(available))}
	for _, c := range available {
		env.available[c] = true
	}
	return env
}

// ReadBytes returns the next raw input.
func (e *Env) ReadBytes() ([]byte, error) {
	if e.pos >= len(e.inputs) {
		return nil, ErrNoInput
	}
	b := e.inputs[e.pos]
	e.pos++
	return b, nil
}

// Read decodes the next input into v.
func (e *Env) Read(v any) error {
	b, err := e.ReadBytes()
	if err != nil {
		return err
	}
	if err := Unmarshal(b, v); err != nil {
		return fmt.Errorf("read input %d: %w", e.pos-1, err)
	}
	return nil
}

// Commit sets the public journal to the encoding of v.
func (e *Env) Commit(v any) error {
	if e.committed {
		return ErrJournalCommitted
	}
	b, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	e.journal = b
	e.committed = true
	return nil
}

// VerifyAssumption asserts that a verified receipt for imageID with
// exactly this journal was supplied. The claim is recorded on the
// resulting receipt.
func (e *Env) VerifyAssumption(imageID ir.Fingerprint, journal []byte) error {
	c := ClaimOf(imageID, journal)
	if !e.available[c] {
		return fmt.Errorf("%w: no receipt for %s with matching journal", ErrAssumptionRejected, imageID.Short())
	}
	for _, u := range e.used {
		if u == c {
			return nil
		}
	}
	e.used = append(e.used, c)
	return nil
}

// VerifyAssumptionValue is VerifyAssumption over the encoding of v.
func (e *Env) VerifyAssumptionValue(imageID ir.Fingerprint, v any) error {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode assumption journal: %w", err)
	}
	return e.VerifyAssumption(imageID, b)
}
