package prover

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// Proven is a receipt from a processing guest with its decoded output.
type Proven struct {
	Receipt    *zkvm.Receipt
	Journal    ir.Journal
	Checkpoint *conformance.Checkpoint
}

// Orchestrator runs processing guests on the engine.
type Orchestrator struct {
	registry *Registry
	engine   zkvm.Engine
	logger   *slog.Logger
}

// NewOrchestrator returns an orchestrator over registry and engine.
func NewOrchestrator(registry *Registry, engine zkvm.Engine, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, engine: engine, logger: logger}
}

// Prove executes the guest registered for imageID over in. Engine errors,
// including in-guest rule rejections, are returned as ENGINE_FAILURE with
// the cause preserved. Context errors are returned unwrapped.
func (o *Orchestrator) Prove(ctx context.Context, imageID ir.Fingerprint, in *Input) (*Proven, error) {
	bin, err := o.registry.Lookup(imageID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r, err := o.engine.Execute(ctx, zkvm.ExecRequest{
		Binary:      bin,
		Inputs:      in.Inputs,
		Assumptions: in.Assumptions,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		o.logger.Warn("proving failed", "guest", bin.Name, "image_id", imageID.Short(), "error", err)
		return nil, &Error{Code: ErrCodeEngineFailure, Message: "engine could not produce a receipt", ImageID: imageID.Short(), Err: err}
	}

	out := &Proven{Receipt: r}
	if err := r.DecodeJournal(&out.Journal); err != nil {
		return nil, newError(ErrCodeSerialization, "decode journal", err)
	}
	cp, err := conformance.DecodeCheckpoint(out.Journal.Metadata)
	if err != nil {
		return nil, newError(ErrCodeSerialization, "decode checkpoint", err)
	}
	out.Checkpoint = cp

	o.logger.Info("round proven",
		"guest", bin.Name,
		"chain_id", cp.ChainID,
		"round", cp.Round,
		"duration", time.Since(start))
	return out, nil
}
