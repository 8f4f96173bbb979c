package service

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/store"
	"github.com/roach88/poam/internal/zkvm"
)

// ComposeRequest is one Compose call.
type ComposeRequest struct {
	ProofChain ir.ProofChain `json:"proof_chain"`

	// ImageID names the composition guest; defaults to the built-in one.
	ImageID []uint32 `json:"image_id,omitempty"`
}

// ComposeResponse carries the composite proof and the claims it attests.
type ComposeResponse struct {
	Proof         ir.Proof            `json:"proof"`
	Claims        []ir.ConstituentRef `json:"claims"`
	CompositionID string              `json:"composition_id,omitempty"`
}

// Compose folds a proof chain into one composite proof.
func (s *Service) Compose(ctx context.Context, req ComposeRequest) (_ *ComposeResponse, err error) {
	start := time.Now()
	defer func() { s.observe("compose", start, err) }()

	target := guest.Composite().ImageID()
	if req.ImageID != nil {
		if target, err = ir.FingerprintFromWords(req.ImageID); err != nil {
			return nil, &prover.Error{Code: prover.ErrCodeMalformedInput, Message: "image id", Err: err}
		}
	}

	r, err := runOnPool(ctx, s, func(ctx context.Context) (*zkvm.Receipt, error) {
		return s.composer.ComposeChain(ctx, req.ProofChain, target)
	})
	if err != nil {
		return nil, err
	}

	data, err := r.MarshalBinary()
	if err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeSerialization, Message: "encode receipt", Err: err}
	}
	var cj ir.CompositeJournal
	if err := r.DecodeJournal(&cj); err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeSerialization, Message: "decode composite journal", Err: err}
	}

	resp := &ComposeResponse{Proof: ir.NewProof(target, data), Claims: cj.Claims}
	resp.CompositionID = s.recordComposition(ctx, target, data, req.ProofChain)
	return resp, nil
}

func (s *Service) recordComposition(ctx context.Context, target ir.Fingerprint, receipt []byte, chain ir.ProofChain) string {
	if s.store == nil {
		return ""
	}
	constituents := make([][]byte, len(chain))
	for i, p := range chain {
		constituents[i] = p.Receipt
	}
	rec, err := store.NewCompositionRecord(target, receipt, constituents)
	if err == nil {
		_, _, err = s.store.WriteComposition(ctx, rec)
	}
	if err != nil {
		s.logger.Error("recording composition failed", "constituents", len(chain), "error", err)
		s.metrics.ObserveStoreError()
		return ""
	}
	return rec.ID
}

// String renders a response for logs and the CLI text format.
func (r *ComposeResponse) String() string {
	return fmt.Sprintf("composite of %d proofs", len(r.Claims))
}
