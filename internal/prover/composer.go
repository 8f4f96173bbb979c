package prover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/zkvm"
)

// Composer folds receipts into one composite receipt.
type Composer struct {
	registry *Registry
	engine   zkvm.Engine
	logger   *slog.Logger
}

// NewComposer returns a composer over registry and engine.
func NewComposer(registry *Registry, engine zkvm.Engine, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{registry: registry, engine: engine, logger: logger}
}

// Compose registers every receipt as an assumption and runs the
// composition guest identified by target. The composite verifies only if
// every constituent verified.
func (c *Composer) Compose(ctx context.Context, receipts []*zkvm.Receipt, target ir.Fingerprint) (*zkvm.Receipt, error) {
	if len(receipts) == 0 {
		return nil, newError(ErrCodeEmptyInput, "no receipts to compose", nil)
	}
	bin, err := c.registry.Lookup(target)
	if err != nil {
		return nil, err
	}

	cs := make([]guest.Constituent, len(receipts))
	for i, r := range receipts {
		if r == nil {
			return nil, newError(ErrCodeAssumptionRejected, fmt.Sprintf("receipt %d is nil", i), nil)
		}
		cs[i] = guest.Constituent{ImageID: r.ImageID, Journal: r.Journal}
	}
	inputs, err := guest.CompositeInputs(cs)
	if err != nil {
		return nil, newError(ErrCodeSerialization, "encode constituents", err)
	}

	start := time.Now()
	out, err := c.engine.Execute(ctx, zkvm.ExecRequest{Binary: bin, Inputs: inputs, Assumptions: receipts})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, zkvm.ErrAssumptionRejected):
		c.logger.Info("composition rejected", "constituents", len(receipts), "error", err)
		return nil, newError(ErrCodeAssumptionRejected, "constituent receipt did not verify", err)
	default:
		return nil, &Error{Code: ErrCodeEngineFailure, Message: "composition failed", ImageID: target.Short(), Err: err}
	}

	c.logger.Info("receipts composed", "constituents", len(receipts), "duration", time.Since(start))
	return out, nil
}

// ComposeChain decodes a proof chain and composes it. A constituent whose
// bytes do not decode, or whose receipt is not for its declared image ID,
// is rejected as ASSUMPTION_REJECTED.
func (c *Composer) ComposeChain(ctx context.Context, chain ir.ProofChain, target ir.Fingerprint) (*zkvm.Receipt, error) {
	if len(chain) == 0 {
		return nil, newError(ErrCodeEmptyInput, "empty proof chain", nil)
	}
	receipts := make([]*zkvm.Receipt, len(chain))
	for i, p := range chain {
		declared, err := p.Fingerprint()
		if err != nil {
			return nil, newError(ErrCodeMalformedInput, fmt.Sprintf("proof %d image id", i), err)
		}
		r, err := zkvm.DecodeReceipt(p.Receipt)
		if err != nil {
			return nil, newError(ErrCodeAssumptionRejected, fmt.Sprintf("proof %d receipt", i), err)
		}
		if r.ImageID != declared {
			return nil, &Error{
				Code:    ErrCodeAssumptionRejected,
				Message: fmt.Sprintf("proof %d receipt is for another guest", i),
				ImageID: declared.Short(),
			}
		}
		receipts[i] = r
	}
	return c.Compose(ctx, receipts, target)
}
