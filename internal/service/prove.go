package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/rules"
	"github.com/roach88/poam/internal/store"
	"github.com/roach88/poam/internal/zkvm"
)

// ProveRequest is one Prove call.
type ProveRequest struct {
	// Operation is the payload. Its operation name selects the guest
	// unless ImageID is set.
	Operation ir.OperationRequest `json:"operation"`

	// ImageID names the guest explicitly.
	ImageID []uint32 `json:"image_id,omitempty"`

	// Prior is the previous round's proof. When nil, the last element of
	// ProofChain is used; with neither, a new chain starts.
	Prior *ir.Proof `json:"prior,omitempty"`

	// ProofChain is the chain accumulated so far, oldest first.
	ProofChain ir.ProofChain `json:"proof_chain,omitempty"`

	// Rules overrides the policy for the guest. An empty rule set is an
	// explicit opt-out.
	Rules *ir.RuleInput `json:"rules,omitempty"`
}

// ProveResponse is the outcome of a successful round.
type ProveResponse struct {
	Result     string                  `json:"result"`
	Value      float64                 `json:"value"`
	Proof      ir.Proof                `json:"proof"`
	ProofChain ir.ProofChain           `json:"proof_chain"`
	ChainID    string                  `json:"chain_id"`
	Round      uint64                  `json:"round"`
	Checkpoint *conformance.Checkpoint `json:"checkpoint"`
	RoundID    string                  `json:"round_id,omitempty"`
}

// Prove proves one round. Errors are *prover.Error for configuration,
// engine and malformed-input failures, *rules.RejectionError for
// conformance rejections, or the context's error.
func (s *Service) Prove(ctx context.Context, req ProveRequest) (_ *ProveResponse, err error) {
	start := time.Now()
	defer func() { s.observe("prove", start, err) }()

	bin, op, err := s.resolveProcessing(req)
	if err != nil {
		return nil, err
	}
	imageID := bin.ImageID()
	payload := req.Operation
	payload.Operation = string(op)

	rs, err := s.rulesFor(imageID, req.Rules)
	if err != nil {
		return nil, err
	}

	prior, chain, err := s.priorOf(req)
	if err != nil {
		return nil, err
	}

	md, err := s.metadataFor(imageID, rs, prior)
	if err != nil {
		return nil, err
	}

	// Host-side fast fail; the guest re-checks the same rules.
	if res := md.Evaluate(); !res.Accepted {
		s.logger.Info("round rejected",
			"guest", bin.Name,
			"chain_id", md.ChainID,
			"round", md.Round,
			"code", res.Violation.Code,
			"rule", res.Violation.Index)
		s.metrics.ObserveRejection(string(res.Violation.Code))
		return nil, res.Err()
	}

	in, err := prover.Assemble(payload, md, prior)
	if err != nil {
		return nil, err
	}

	proven, err := runOnPool(ctx, s, func(ctx context.Context) (*prover.Proven, error) {
		return s.orchestrator.Prove(ctx, imageID, in)
	})
	if err != nil {
		if v, ok := rules.ViolationOf(err); ok {
			s.metrics.ObserveRejection(string(v.Code))
		}
		return nil, err
	}

	data, err := proven.Receipt.MarshalBinary()
	if err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeSerialization, Message: "encode receipt", Err: err}
	}
	value, err := ir.ParseResult(proven.Journal.Result)
	if err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeSerialization, Message: "decode result", Err: err}
	}

	proof := ir.NewProof(imageID, data)
	resp := &ProveResponse{
		Result:     proven.Journal.Result,
		Value:      value,
		Proof:      proof,
		ProofChain: chain.Append(proof),
		ChainID:    proven.Checkpoint.ChainID,
		Round:      proven.Checkpoint.Round,
		Checkpoint: proven.Checkpoint,
	}
	resp.RoundID = s.recordRound(ctx, md, rs, proven.Journal, data)
	return resp, nil
}

// resolveProcessing picks the processing guest for req.
func (s *Service) resolveProcessing(req ProveRequest) (*zkvm.Binary, ir.Operation, error) {
	var named ir.Operation
	if req.Operation.Operation != "" {
		op, err := ir.ParseOperation(req.Operation.Operation)
		if err != nil {
			return nil, "", configError(prover.ErrCodeUnknownFingerprint, "%v", err)
		}
		named = op
	}

	if req.ImageID == nil {
		if named == "" {
			return nil, "", configError(prover.ErrCodeUnknownFingerprint, "no guest: operation and image_id are both empty")
		}
		bin, err := s.registry.LookupName(named.GuestName())
		return bin, named, err
	}

	fp, err := ir.FingerprintFromWords(req.ImageID)
	if err != nil {
		return nil, "", &prover.Error{Code: prover.ErrCodeMalformedInput, Message: "image id", Err: err}
	}
	bin, err := s.registry.Lookup(fp)
	if err != nil {
		return nil, "", err
	}
	op, ok := operationOf(bin)
	if !ok {
		return nil, "", configError(prover.ErrCodeUnknownFingerprint, "guest %s is not a processing guest", bin.Name)
	}
	if named != "" && named != op {
		return nil, "", configError(prover.ErrCodeUnknownFingerprint, "guest %s does not run operation %q", bin.Name, named)
	}
	return bin, op, nil
}

// rulesFor returns the request's rules, else the guest's policy, else
// nil. Whatever is chosen must validate. The round commits the digest of
// the chosen rules, so an override stays visible in the proof.
func (s *Service) rulesFor(imageID ir.Fingerprint, requested *ir.RuleInput) (*ir.RuleInput, error) {
	rs := requested
	if policyRules, ok := s.policies.For(imageID); ok {
		if rs == nil {
			rs = policyRules
		} else if a, b := digestOf(rs), digestOf(policyRules); a != b {
			s.logger.Warn("request rules override guest policy",
				"guest", s.registry.NameOf(imageID), "rules_digest", a, "policy_digest", b)
		}
	}
	if rs == nil {
		if s.requireRules {
			return nil, configError(prover.ErrCodeMalformedRules, "no rules supplied and no policy for guest %s", s.registry.NameOf(imageID))
		}
		return nil, nil
	}
	if err := rs.Validate(); err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeMalformedRules, Message: "invalid rule set", Err: err}
	}
	return rs, nil
}

// priorOf decodes and verifies the prior proof, if any, and returns the
// chain the new proof extends.
func (s *Service) priorOf(req ProveRequest) (*zkvm.Receipt, ir.ProofChain, error) {
	p := req.Prior
	chain := req.ProofChain
	if last, ok := chain.Last(); ok {
		if p == nil {
			p = &last
		} else if !sameProof(*p, last) {
			return nil, nil, configError(prover.ErrCodeMalformedInput, "prior is not the last proof of proof_chain")
		}
	} else if p != nil {
		chain = ir.ProofChain{*p}
	}
	if p == nil {
		return nil, nil, nil
	}

	fp, err := p.Fingerprint()
	if err != nil {
		return nil, nil, &prover.Error{Code: prover.ErrCodeMalformedInput, Message: "prior image id", Err: err}
	}
	r, err := zkvm.DecodeReceipt(p.Receipt)
	if err != nil {
		return nil, nil, &prover.Error{Code: prover.ErrCodeMalformedInput, Message: "prior receipt", Err: err}
	}
	if err := s.engine.Verify(r, fp); err != nil {
		return nil, nil, &prover.Error{
			Code:    prover.ErrCodeAssumptionRejected,
			Message: "prior receipt does not verify",
			ImageID: fp.Short(),
			Err:     err,
		}
	}
	return r, chain, nil
}

// metadataFor builds the round's metadata: continuing prior's checkpoint,
// or starting a new chain.
func (s *Service) metadataFor(imageID ir.Fingerprint, rs *ir.RuleInput, prior *zkvm.Receipt) (*conformance.Metadata, error) {
	if prior == nil {
		md, err := conformance.Initial(s.chainIDs.Generate(), imageID, rs, s.filter)
		if err != nil {
			return nil, &prover.Error{Code: prover.ErrCodeSerialization, Message: "initial metadata", Err: err}
		}
		return md, nil
	}
	if prior.ImageID == guest.Composite().ImageID() {
		return nil, configError(prover.ErrCodeMalformedInput, "a composite proof cannot be continued")
	}

	var j ir.Journal
	if err := prior.DecodeJournal(&j); err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeMalformedInput, Message: "prior journal", Err: err}
	}
	cp, err := conformance.DecodeCheckpoint(j.Metadata)
	if err != nil {
		return nil, &prover.Error{Code: prover.ErrCodeMalformedInput, Message: "prior checkpoint", Err: err}
	}
	return cp.Next(imageID, rs), nil
}

// recordRound appends a proven round to the audit store. Store failures
// are logged and counted; the round itself stands.
func (s *Service) recordRound(ctx context.Context, md *conformance.Metadata, rs *ir.RuleInput, j ir.Journal, receipt []byte) string {
	if s.store == nil {
		s.metrics.ObserveRound(md.Round, false, nil)
		return ""
	}
	rec, err := store.NewRoundRecord(md.ChainID, md.Round, md.CurrentImageID, md.PreviousImageID, rs, j, receipt)
	if err == nil {
		_, _, err = s.store.WriteRound(ctx, rec)
	}
	if err != nil {
		level := s.logger.Error
		if errors.Is(err, store.ErrRoundConflict) {
			// A fork: the same prior proof was continued twice.
			level = s.logger.Warn
		}
		level("recording round failed", "chain_id", md.ChainID, "round", md.Round, "error", err)
		s.metrics.ObserveRound(md.Round, false, err)
		return ""
	}
	s.metrics.ObserveRound(md.Round, true, nil)
	return rec.ID
}

func digestOf(rs *ir.RuleInput) string {
	d, _ := ir.RulesDigest(rs)
	return d
}

func sameProof(a, b ir.Proof) bool {
	return slices.Equal(a.ImageID, b.ImageID) && bytes.Equal(a.Receipt, b.Receipt)
}

// String renders a response for logs and the CLI text format.
func (r *ProveResponse) String() string {
	return fmt.Sprintf("result=%s chain=%s round=%d proofs=%d", r.Result, r.ChainID, r.Round, len(r.ProofChain))
}
