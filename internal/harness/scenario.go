package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policies is an optional CUE policy directory, relative to the
	// scenario file.
	Policies string `yaml:"policies,omitempty"`

	// RequireRules rejects rounds that have neither request rules nor a
	// policy.
	RequireRules bool `yaml:"require_rules,omitempty"`

	// ChainIDs are handed out in order to new chains. Defaults to
	// "chain-1", "chain-2", ...
	ChainIDs []string `yaml:"chain_ids,omitempty"`

	// Steps run in order against one service.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and audit store.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is exactly one of Prove, Compose, Verify or Tamper.
type Step struct {
	Prove   *ProveStep   `yaml:"prove,omitempty"`
	Compose *ComposeStep `yaml:"compose,omitempty"`
	Verify  *TargetStep  `yaml:"verify,omitempty"`
	Tamper  *TargetStep  `yaml:"tamper,omitempty"`

	// Expect is checked against the step's trace event. Nil skips checks.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ProveStep proves one round on the current chain.
type ProveStep struct {
	Operation string  `yaml:"operation"`
	A         float64 `yaml:"a"`
	B         float64 `yaml:"b"`

	// NewChain discards the current chain and starts another.
	NewChain bool `yaml:"new_chain,omitempty"`

	// Rules uses the policy shape: {rules: [...], ordering_rules: [...]}.
	// Absent means no request rules; an empty map is an explicit empty set.
	Rules map[string]any `yaml:"rules,omitempty"`
}

// ComposeStep composes the current chain.
type ComposeStep struct{}

// TargetStep names the proof a verify or tamper step acts on.
type TargetStep struct {
	// Target is "last" (the current chain's last proof, the default) or
	// "composite" (the latest composite proof).
	Target string `yaml:"target,omitempty"`
}

// Targets.
const (
	TargetLast      = "last"
	TargetComposite = "composite"
)

// ExpectClause lists the expected fields of a step; zero values are not
// checked.
type ExpectClause struct {
	Outcome     string `yaml:"outcome"`
	Result      string `yaml:"result,omitempty"`
	Round       uint64 `yaml:"round,omitempty"`
	Claims      int    `yaml:"claims,omitempty"`
	ChainLength int    `yaml:"chain_length,omitempty"`
}

// Assertion validates the trace or the audit store after all steps.
type Assertion struct {
	// Type is one of trace_count, trace_order, final_state.
	Type string `yaml:"type"`

	// Kind and Outcome filter events for trace_count. Empty matches all.
	Kind    string `yaml:"kind,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// Guests is the expected order of successfully proven guests
	// (trace_order). Other rounds may appear in between.
	Guests []string `yaml:"guests,omitempty"`

	// Table, Where and Expect describe a final_state row query.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative policies path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Policies != "" && !filepath.IsAbs(s.Policies) {
		s.Policies = filepath.Join(filepath.Dir(path), s.Policies)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Policy paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// kind returns the step's kind, or "" unless exactly one is set.
func (s *Step) kind() string {
	var kinds []string
	if s.Prove != nil {
		kinds = append(kinds, KindProve)
	}
	if s.Compose != nil {
		kinds = append(kinds, KindCompose)
	}
	if s.Verify != nil {
		kinds = append(kinds, KindVerify)
	}
	if s.Tamper != nil {
		kinds = append(kinds, KindTamper)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		switch step.kind() {
		case "":
			return fmt.Errorf("steps[%d]: exactly one of prove, compose, verify, tamper is required", i)
		case KindProve:
			if step.Prove.Operation == "" {
				return fmt.Errorf("steps[%d].prove: operation is required", i)
			}
		case KindVerify:
			if err := validateTarget(step.Verify.Target); err != nil {
				return fmt.Errorf("steps[%d].verify: %w", i, err)
			}
		case KindTamper:
			if err := validateTarget(step.Tamper.Target); err != nil {
				return fmt.Errorf("steps[%d].tamper: %w", i, err)
			}
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("steps[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(t string) error {
	switch t {
	case "", TargetLast, TargetComposite:
		return nil
	}
	return fmt.Errorf("unknown target %q", t)
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Guests) == 0 {
			return fmt.Errorf("assertions[%d]: guests list is required for trace_order", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
