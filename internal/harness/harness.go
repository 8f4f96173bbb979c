package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/policy"
	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/rules"
	"github.com/roach88/poam/internal/service"
	"github.com/roach88/poam/internal/store"
	"github.com/roach88/poam/internal/zkvm"
)

// Harness is the test execution engine for one scenario.
type Harness struct {
	svc      *service.Service
	registry *prover.Registry
	store    *store.Store

	// chain is the current proof chain; composite the latest composite.
	chain     ir.ProofChain
	composite *ir.Proof
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store and a local engine with
// an all-zero key seed. An error means the scenario could not be executed;
// failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(scenario, st)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(ctx, i, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, st *store.Store) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := prover.NewRegistry(guest.All()...)
	if err != nil {
		return nil, err
	}
	engine, err := zkvm.NewLocalEngine(make([]byte, 32), logger)
	if err != nil {
		return nil, err
	}

	var policies *policy.Set
	if scenario.Policies != "" {
		set, errs := policy.Load(scenario.Policies, registry, policy.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, fmt.Errorf("failed to load policies: %w", errs[0])
		}
		policies = set
	}

	ids := scenario.ChainIDs
	if len(ids) == 0 {
		for i := range scenario.Steps {
			ids = append(ids, fmt.Sprintf("chain-%d", i+1))
		}
	}

	svc, err := service.New(service.Options{
		Engine:       engine,
		Registry:     registry,
		Policies:     policies,
		Store:        st,
		Logger:       logger,
		Workers:      1,
		RequireRules: scenario.RequireRules,
		ChainIDs:     service.NewFixedGenerator(ids...),
	})
	if err != nil {
		return nil, err
	}
	return &Harness{svc: svc, registry: registry, store: st}, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step *Step, result *Result) error {
	var (
		ev  TraceEvent
		err error
	)
	switch step.kind() {
	case KindProve:
		ev, err = h.prove(ctx, step.Prove)
	case KindCompose:
		ev = h.compose(ctx)
	case KindVerify:
		ev, err = h.verify(ctx, step.Verify.Target)
	case KindTamper:
		ev, err = h.tamper(step.Tamper.Target)
	default:
		return fmt.Errorf("invalid step")
	}
	if err != nil {
		return err
	}
	ev.Step = i + 1
	result.addTrace(ev)

	if step.Expect != nil {
		for _, msg := range h.check(ev, step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, ev.Kind, msg))
		}
	}
	return nil
}

func (h *Harness) prove(ctx context.Context, p *ProveStep) (TraceEvent, error) {
	ev := TraceEvent{Kind: KindProve}
	req := service.ProveRequest{
		Operation: ir.OperationRequest{A: p.A, B: p.B, Operation: p.Operation},
	}
	if !p.NewChain {
		req.ProofChain = h.chain
	}

	if op, err := ir.ParseOperation(p.Operation); err == nil {
		ev.Guest = op.GuestName()
		if p.Rules != nil {
			rs, err := h.compileRules(ev.Guest, p.Rules)
			if err != nil {
				return ev, err
			}
			req.Rules = rs
		}
	}

	resp, err := h.svc.Prove(ctx, req)
	if err != nil {
		ev.Outcome = outcomeOf(err)
		return ev, nil
	}
	h.chain = resp.ProofChain
	ev.ChainID = resp.ChainID
	ev.Round = resp.Round
	ev.Result = resp.Result
	ev.Outcome = OutcomeOK
	return ev, nil
}

// compileRules reads a scenario rule set through the policy compiler, so
// scenarios and policy files accept the same shape.
func (h *Harness) compileRules(guestName string, raw map[string]any) (*ir.RuleInput, error) {
	doc := map[string]any{"guest": guestName}
	for k, v := range raw {
		doc[k] = v
	}
	v := cuecontext.New().Encode(doc)
	p, err := policy.Compile(v, h.registry)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return p.Rules, nil
}

func (h *Harness) compose(ctx context.Context) TraceEvent {
	ev := TraceEvent{Kind: KindCompose, Guest: guest.CompositeName}
	resp, err := h.svc.Compose(ctx, service.ComposeRequest{ProofChain: h.chain})
	if err != nil {
		ev.Outcome = outcomeOf(err)
		return ev
	}
	h.composite = &resp.Proof
	ev.Claims = make([]string, len(resp.Claims))
	for i, c := range resp.Claims {
		ev.Claims[i] = h.registry.NameOf(c.ImageID)
	}
	ev.Outcome = OutcomeOK
	return ev
}

func (h *Harness) verify(ctx context.Context, target string) (TraceEvent, error) {
	ev := TraceEvent{Kind: KindVerify}
	p, err := h.target(target)
	if err != nil {
		return ev, err
	}
	if fp, err := p.Fingerprint(); err == nil {
		ev.Guest = h.registry.NameOf(fp)
	}

	resp, err := h.svc.Verify(ctx, *p)
	switch {
	case err != nil:
		ev.Outcome = outcomeOf(err)
	case resp.Valid:
		ev.Outcome = OutcomeValid
		if resp.Journal != nil {
			ev.Result = resp.Journal.Result
		}
	default:
		ev.Outcome = OutcomeInvalid
	}
	return ev, nil
}

// tamper flips the low bit of the target's last receipt byte, which lies in
// the seal: the receipt still decodes but no longer verifies.
func (h *Harness) tamper(target string) (TraceEvent, error) {
	ev := TraceEvent{Kind: KindTamper, Outcome: OutcomeOK}
	p, err := h.target(target)
	if err != nil {
		return ev, err
	}
	if fp, err := p.Fingerprint(); err == nil {
		ev.Guest = h.registry.NameOf(fp)
	}

	receipt := append([]byte(nil), p.Receipt...)
	receipt[len(receipt)-1] ^= 0x01
	tampered := ir.Proof{ImageID: p.ImageID, Receipt: receipt}

	if target == TargetComposite {
		h.composite = &tampered
		return ev, nil
	}
	chain := make(ir.ProofChain, len(h.chain))
	copy(chain, h.chain)
	chain[len(chain)-1] = tampered
	h.chain = chain
	return ev, nil
}

func (h *Harness) target(target string) (*ir.Proof, error) {
	if target == TargetComposite {
		if h.composite == nil {
			return nil, errors.New("no composite proof yet")
		}
		return h.composite, nil
	}
	last, ok := h.chain.Last()
	if !ok {
		return nil, errors.New("no proof yet")
	}
	return &last, nil
}

func (h *Harness) check(ev TraceEvent, want *ExpectClause) []string {
	var msgs []string
	if ev.Outcome != want.Outcome {
		msgs = append(msgs, fmt.Sprintf("expected outcome %q, got %q", want.Outcome, ev.Outcome))
	}
	if want.Result != "" && ev.Result != want.Result {
		msgs = append(msgs, fmt.Sprintf("expected result %q, got %q", want.Result, ev.Result))
	}
	if want.Round != 0 && ev.Round != want.Round {
		msgs = append(msgs, fmt.Sprintf("expected round %d, got %d", want.Round, ev.Round))
	}
	if want.Claims != 0 && len(ev.Claims) != want.Claims {
		msgs = append(msgs, fmt.Sprintf("expected %d claims, got %d", want.Claims, len(ev.Claims)))
	}
	if want.ChainLength != 0 && len(h.chain) != want.ChainLength {
		msgs = append(msgs, fmt.Sprintf("expected chain length %d, got %d", want.ChainLength, len(h.chain)))
	}
	return msgs
}

// outcomeOf names an error: the violation code for rejections, the prover
// code for prover errors, else the error category.
func outcomeOf(err error) string {
	if v, ok := rules.ViolationOf(err); ok {
		return string(v.Code)
	}
	if code, ok := prover.CodeOf(err); ok {
		return string(code)
	}
	return string(prover.CategoryOf(err))
}
