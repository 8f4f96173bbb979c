package rules

import (
	"fmt"

	"github.com/roach88/poam/internal/ir"
)

// Filter is the read side of a membership filter.
type Filter interface {
	Contains(fp ir.Fingerprint) bool
	ApproximateCount(fp ir.Fingerprint) uint32
}

// Violation describes the first rule that rejected a round.
type Violation struct {
	Code ViolationCode `json:"code"`

	// Index is the rule's position in its list; Ordering reports whether
	// that list is OrderingRules.
	Index    int  `json:"index"`
	Ordering bool `json:"ordering,omitempty"`

	// Current is the fingerprint being proven.
	Current ir.Fingerprint `json:"current"`

	// Expected is the missing preceding fingerprint (precedence only).
	Expected *ir.Fingerprint `json:"expected,omitempty"`

	// Fingerprint, Actual, Min and Max describe the out-of-bounds
	// candidate (cardinality only). All four are set together, so a count
	// of zero still reaches the wire.
	Fingerprint *ir.Fingerprint `json:"fingerprint,omitempty"`
	Actual      *uint32         `json:"actual,omitempty"`
	Min         *uint32         `json:"min,omitempty"`
	Max         *uint32         `json:"max,omitempty"`
}

// Message renders the violation for humans.
func (v Violation) Message() string {
	switch v.Code {
	case CodePrecedence:
		return fmt.Sprintf("%s requires %s to be proven first", v.Current.Short(), v.Expected.Short())
	case CodeCardinality:
		return fmt.Sprintf("%s occurred %d times, allowed [%d, %d]", v.Fingerprint.Short(), *v.Actual, *v.Min, *v.Max)
	}
	return string(v.Code)
}

// Result is the outcome of Evaluate.
type Result struct {
	Accepted  bool
	Violation *Violation

	// Checked counts the rules that applied before evaluation stopped.
	Checked int
}

// Err returns a *RejectionError for a rejected result, nil otherwise.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	return &RejectionError{Violation: *r.Violation}
}

// Evaluate checks in against f for a round proving current.
// A nil or empty rule input accepts.
func Evaluate(in *ir.RuleInput, f Filter, current ir.Fingerprint) Result {
	res := Result{Accepted: true}
	if in == nil {
		return res
	}
	if v := evaluateList(in.Rules, false, f, current, &res.Checked); v != nil {
		return Result{Violation: v, Checked: res.Checked}
	}
	if v := evaluateList(in.OrderingRules, true, f, current, &res.Checked); v != nil {
		return Result{Violation: v, Checked: res.Checked}
	}
	return res
}

func evaluateList(list []ir.Rule, ordering bool, f Filter, current ir.Fingerprint, checked *int) *Violation {
	for i, r := range list {
		var v *Violation
		switch {
		case r.Precedence != nil:
			if !appliesTo(r.Precedence, current) {
				continue
			}
			v = checkPrecedence(r.Precedence, f, current)
		case r.Cardinality != nil:
			v = checkCardinality(r.Cardinality, f, current)
		default:
			continue
		}
		*checked++
		if v != nil {
			v.Index = i
			v.Ordering = ordering
			return v
		}
	}
	return nil
}

func appliesTo(p *ir.PrecedenceRule, current ir.Fingerprint) bool {
	return p.Current == nil || *p.Current == current
}

func checkPrecedence(p *ir.PrecedenceRule, f Filter, current ir.Fingerprint) *Violation {
	if f.Contains(p.Preceding) {
		return nil
	}
	expected := p.Preceding
	return &Violation{Code: CodePrecedence, Current: current, Expected: &expected}
}

func checkCardinality(c *ir.CardinalityRule, f Filter, current ir.Fingerprint) *Violation {
	for _, fp := range c.Candidates {
		n := f.ApproximateCount(fp)
		if n >= c.Min && n <= c.Max {
			continue
		}
		candidate, lo, hi := fp, c.Min, c.Max
		return &Violation{
			Code:        CodeCardinality,
			Current:     current,
			Fingerprint: &candidate,
			Actual:      &n,
			Min:         &lo,
			Max:         &hi,
		}
	}
	return nil
}
