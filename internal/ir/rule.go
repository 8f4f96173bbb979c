package ir

import (
	"fmt"
)

// RuleKind names a Rule variant.
type RuleKind string

const (
	RuleKindPrecedence  RuleKind = "precedence"
	RuleKindCardinality RuleKind = "cardinality"
)

// Rule is a tagged variant over the conformance rule kinds.
// Exactly one field must be set.
type Rule struct {
	Precedence  *PrecedenceRule  `json:"precedence,omitempty"`
	Cardinality *CardinalityRule `json:"cardinality,omitempty"`
}

// PrecedenceRule requires Preceding to be recorded in the chain before the
// round being proven. When Current is set the rule only applies to rounds
// proving that fingerprint.
type PrecedenceRule struct {
	Preceding Fingerprint  `json:"preceding"`
	Current   *Fingerprint `json:"current,omitempty"`
}

// CardinalityRule bounds (inclusively) the number of prior occurrences of
// each candidate fingerprint.
type CardinalityRule struct {
	Candidates []Fingerprint `json:"candidates"`
	Min        uint32        `json:"min"`
	Max        uint32        `json:"max"`
}

// RuleInput is the rule set attached to a proving round. A nil *RuleInput
// means no constraint; an empty one is an explicit opt-out.
//
// OrderingRules may only hold precedence rules and are evaluated after Rules.
type RuleInput struct {
	Rules         []Rule `json:"rules"`
	OrderingRules []Rule `json:"ordering_rules,omitempty"`
}

// NewPrecedence builds a universally applicable precedence rule.
func NewPrecedence(preceding Fingerprint) Rule {
	return Rule{Precedence: &PrecedenceRule{Preceding: preceding}}
}

// NewScopedPrecedence builds a precedence rule that only applies while
// proving current.
func NewScopedPrecedence(preceding, current Fingerprint) Rule {
	c := current
	return Rule{Precedence: &PrecedenceRule{Preceding: preceding, Current: &c}}
}

// NewCardinality builds a cardinality rule.
func NewCardinality(min, max uint32, candidates ...Fingerprint) Rule {
	return Rule{Cardinality: &CardinalityRule{Candidates: candidates, Min: min, Max: max}}
}

// Kind returns the variant tag, or "" when the rule is malformed.
func (r Rule) Kind() RuleKind {
	switch {
	case r.Precedence != nil && r.Cardinality == nil:
		return RuleKindPrecedence
	case r.Cardinality != nil && r.Precedence == nil:
		return RuleKindCardinality
	default:
		return ""
	}
}

// All returns Rules followed by OrderingRules. Nil-safe.
func (in *RuleInput) All() []Rule {
	if in == nil {
		return nil
	}
	out := make([]Rule, 0, len(in.Rules)+len(in.OrderingRules))
	out = append(out, in.Rules...)
	return append(out, in.OrderingRules...)
}

// Len returns the number of rules across both lists. Nil-safe.
func (in *RuleInput) Len() int {
	if in == nil {
		return 0
	}
	return len(in.Rules) + len(in.OrderingRules)
}

// Validation error codes.
const (
	ErrRuleVariant      = "R001" // zero or multiple variants set
	ErrRuleZeroImage    = "R002" // rule references the zero fingerprint
	ErrRuleNoCandidates = "R003" // cardinality rule without candidates
	ErrRuleBounds       = "R004" // min > max
	ErrRuleOrderingKind = "R005" // non-precedence rule in ordering_rules
)

// ValidationError reports a malformed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks the rule input and returns the first problem found.
// A nil input is valid.
func (in *RuleInput) Validate() error {
	if in == nil {
		return nil
	}
	for i, r := range in.Rules {
		if err := r.validate(fmt.Sprintf("rules[%d]", i)); err != nil {
			return err
		}
	}
	for i, r := range in.OrderingRules {
		field := fmt.Sprintf("ordering_rules[%d]", i)
		if err := r.validate(field); err != nil {
			return err
		}
		if r.Kind() != RuleKindPrecedence {
			return ValidationError{Field: field, Code: ErrRuleOrderingKind, Message: "ordering rules must be precedence rules"}
		}
	}
	return nil
}

func (r Rule) validate(field string) error {
	switch r.Kind() {
	case RuleKindPrecedence:
		if r.Precedence.Preceding.IsZero() {
			return ValidationError{Field: field + ".precedence.preceding", Code: ErrRuleZeroImage, Message: "preceding fingerprint is required"}
		}
		if r.Precedence.Current != nil && r.Precedence.Current.IsZero() {
			return ValidationError{Field: field + ".precedence.current", Code: ErrRuleZeroImage, Message: "current fingerprint must not be zero"}
		}
	case RuleKindCardinality:
		c := r.Cardinality
		if len(c.Candidates) == 0 {
			return ValidationError{Field: field + ".cardinality.candidates", Code: ErrRuleNoCandidates, Message: "at least one candidate is required"}
		}
		for j, fp := range c.Candidates {
			if fp.IsZero() {
				return ValidationError{Field: fmt.Sprintf("%s.cardinality.candidates[%d]", field, j), Code: ErrRuleZeroImage, Message: "candidate fingerprint must not be zero"}
			}
		}
		if c.Min > c.Max {
			return ValidationError{Field: field + ".cardinality", Code: ErrRuleBounds, Message: fmt.Sprintf("min %d exceeds max %d", c.Min, c.Max)}
		}
	default:
		return ValidationError{Field: field, Code: ErrRuleVariant, Message: "exactly one of precedence or cardinality must be set"}
	}
	return nil
}
