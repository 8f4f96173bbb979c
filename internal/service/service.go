package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/metrics"
	"github.com/roach88/poam/internal/policy"
	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/store"
	"github.com/roach88/poam/internal/workpool"
	"github.com/roach88/poam/internal/zkvm"
)

// ErrNoStore is returned by the audit queries when no store is configured.
var ErrNoStore = errors.New("service: audit store not configured")

// Options configures a Service. Engine is required; everything else has a
// usable zero value.
type Options struct {
	Engine   zkvm.Engine
	Registry *prover.Registry // defaults to every built-in guest
	Policies *policy.Set
	Store    *store.Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Workers bounds concurrent engine calls (minimum 1).
	Workers int

	// Filter sizes the membership filter of new chains.
	Filter conformance.FilterParams

	// RequireRules makes a round with no rules from the request or a
	// policy fail with MALFORMED_RULES instead of being accepted.
	RequireRules bool

	// ChainIDs names new chains; defaults to UUIDv7Generator.
	ChainIDs ChainIDGenerator
}

// Service is the Prove / Compose / Verify facade.
type Service struct {
	registry     *prover.Registry
	engine       zkvm.Engine
	orchestrator *prover.Orchestrator
	composer     *prover.Composer
	verifier     *prover.Verifier
	pool         *workpool.Pool
	policies     *policy.Set
	store        *store.Store
	metrics      *metrics.Metrics
	logger       *slog.Logger
	filter       conformance.FilterParams
	requireRules bool
	chainIDs     ChainIDGenerator
}

// New returns a service over opts.
func New(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("service: engine is required")
	}
	if opts.Registry == nil {
		reg, err := prover.NewRegistry(guest.All()...)
		if err != nil {
			return nil, err
		}
		opts.Registry = reg
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Filter == (conformance.FilterParams{}) {
		opts.Filter = conformance.DefaultFilterParams()
	}
	if opts.ChainIDs == nil {
		opts.ChainIDs = UUIDv7Generator{}
	}

	return &Service{
		registry:     opts.Registry,
		engine:       opts.Engine,
		orchestrator: prover.NewOrchestrator(opts.Registry, opts.Engine, opts.Logger),
		composer:     prover.NewComposer(opts.Registry, opts.Engine, opts.Logger),
		verifier:     prover.NewVerifier(opts.Engine),
		pool:         workpool.New(opts.Workers),
		policies:     opts.Policies,
		store:        opts.Store,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		filter:       opts.Filter,
		requireRules: opts.RequireRules,
		chainIDs:     opts.ChainIDs,
	}, nil
}

// Registry returns the guest registry.
func (s *Service) Registry() *prover.Registry { return s.registry }

// GuestInfo describes a registered guest.
type GuestInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	ImageID   []uint32 `json:"image_id"`
	ImageHex  string   `json:"image_hex"`
	Composite bool     `json:"composite"`
	HasPolicy bool     `json:"has_policy"`
}

// Guests lists the registered guests in registration order.
func (s *Service) Guests() []GuestInfo {
	bins := s.registry.Binaries()
	out := make([]GuestInfo, 0, len(bins))
	for _, b := range bins {
		id := b.ImageID()
		_, hasPolicy := s.policies.For(id)
		out = append(out, GuestInfo{
			Name:      b.Name,
			Version:   b.Version,
			ImageID:   id.Words(),
			ImageHex:  id.String(),
			Composite: b.Name == guest.CompositeName,
			HasPolicy: hasPolicy,
		})
	}
	return out
}

// Chain returns the recorded rounds of a chain.
func (s *Service) Chain(ctx context.Context, chainID string) ([]store.RoundRecord, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ReadChain(ctx, chainID)
}

// Replay re-verifies every recorded round of a chain.
func (s *Service) Replay(ctx context.Context, chainID string) (store.ReplayResult, error) {
	if s.store == nil {
		return store.ReplayResult{}, ErrNoStore
	}
	return s.store.VerifyChain(ctx, chainID, s.engine)
}

// Health reports whether the service's dependencies are reachable.
func (s *Service) Health(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}

// runOnPool runs fn on the worker pool and publishes pool gauges.
func runOnPool[T any](ctx context.Context, s *Service, fn func(context.Context) (T, error)) (T, error) {
	v, err := workpool.Do(ctx, s.pool, fn)
	s.metrics.SetPool(s.pool.InFlight(), s.pool.Dropped())
	return v, err
}

// observe records the outcome of one facade call.
func (s *Service) observe(op string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = string(prover.CategoryOf(err))
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
}

// operationOf returns the arithmetic operation a processing guest runs.
func operationOf(b *zkvm.Binary) (ir.Operation, bool) {
	for _, op := range ir.Operations {
		if op.GuestName() == b.Name {
			return op, true
		}
	}
	return "", false
}

func configError(code prover.ErrorCode, format string, args ...any) *prover.Error {
	return &prover.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
