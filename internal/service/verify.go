package service

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/prover"
)

// VerifyResponse is the outcome of Verify. "Invalid" is a normal result,
// not an error. The public output is decoded for valid receipts of
// processing guests (Journal) and the composition guest (Composite).
type VerifyResponse struct {
	Valid     bool                 `json:"valid"`
	Reason    string               `json:"reason,omitempty"`
	Journal   *ir.Journal          `json:"journal,omitempty"`
	Composite *ir.CompositeJournal `json:"composite,omitempty"`

	// RulesDigest is the rules digest a processing round committed.
	RulesDigest string `json:"rules_digest,omitempty"`

	// PolicyConformant is set when a policy is loaded for the round's
	// guest: whether the round was proven under exactly its rules.
	PolicyConformant *bool `json:"policy_conformant,omitempty"`
}

// Verify checks a proof against its declared image ID. Only a wrong-length
// image ID or undecodable receipt bytes return an error (MALFORMED_INPUT).
func (s *Service) Verify(ctx context.Context, p ir.Proof) (_ *VerifyResponse, err error) {
	start := time.Now()
	defer func() { s.observe("verify", start, err) }()

	out, err := runOnPool(ctx, s, func(ctx context.Context) (prover.Outcome, error) {
		return s.verifier.VerifyProof(p)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveVerification(out.Valid)

	resp := &VerifyResponse{Valid: out.Valid, Reason: out.Reason}
	if !out.Valid {
		return resp, nil
	}

	// The image ID decoded above, so this cannot fail.
	fp, _ := p.Fingerprint()
	if fp == guest.Composite().ImageID() {
		if cj, err := prover.DecodeOutput[ir.CompositeJournal](out); err == nil {
			resp.Composite = &cj
		}
	} else if j, err := prover.DecodeOutput[ir.Journal](out); err == nil {
		resp.Journal = &j
		s.checkPolicy(resp, fp, j)
	}
	return resp, nil
}

func (s *Service) checkPolicy(resp *VerifyResponse, fp ir.Fingerprint, j ir.Journal) {
	cp, err := conformance.DecodeCheckpoint(j.Metadata)
	if err != nil {
		return
	}
	resp.RulesDigest = cp.RulesDigest
	rs, ok := s.policies.For(fp)
	if !ok {
		return
	}
	if conforms, err := cp.Commits(rs); err == nil {
		resp.PolicyConformant = &conforms
	}
}

// String renders a response for logs and the CLI text format.
func (r *VerifyResponse) String() string {
	switch {
	case !r.Valid:
		return "invalid: " + r.Reason
	case r.Journal != nil && r.PolicyConformant != nil && !*r.PolicyConformant:
		return fmt.Sprintf("valid: result=%s (not proven under the loaded policy)", r.Journal.Result)
	case r.Journal != nil:
		return fmt.Sprintf("valid: result=%s", r.Journal.Result)
	case r.Composite != nil:
		return fmt.Sprintf("valid: composite of %d proofs", len(r.Composite.Claims))
	}
	return "valid"
}
