package policy

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/poam/internal/ir"
)

// Resolver turns guest references into image IDs.
// *prover.Registry satisfies it.
type Resolver interface {
	Resolve(ref string) (ir.Fingerprint, error)
}

// Policy is one compiled policy entry.
type Policy struct {
	Name     string
	GuestRef string
	Guest    ir.Fingerprint
	Rules    *ir.RuleInput
}

// CompileError reports a policy that could not be compiled, with its CUE
// position when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile parses a CUE value into a Policy. The value should be the policy
// struct itself, e.g. the value at path "policy.mul_after_add".
func Compile(v cue.Value, r Resolver) (*Policy, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &Policy{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		p.Name = labels[len(labels)-1].String()
	}

	guestVal := v.LookupPath(cue.ParsePath("guest"))
	if !guestVal.Exists() {
		return nil, &CompileError{Field: "guest", Message: "guest is required", Pos: v.Pos()}
	}
	ref, err := guestVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	p.GuestRef = ref
	if p.Guest, err = r.Resolve(ref); err != nil {
		return nil, &CompileError{Field: "guest", Message: err.Error(), Pos: guestVal.Pos()}
	}

	in := &ir.RuleInput{}
	if in.Rules, err = parseRules(v, "rules", r); err != nil {
		return nil, err
	}
	if in.OrderingRules, err = parseRules(v, "ordering_rules", r); err != nil {
		return nil, err
	}
	if in.Rules == nil {
		in.Rules = []ir.Rule{}
	}
	if err := in.Validate(); err != nil {
		return nil, &CompileError{Field: "rules", Message: err.Error(), Pos: v.Pos()}
	}
	p.Rules = in

	return p, nil
}

// parseRules reads an optional list of rules at field.
func parseRules(v cue.Value, field string, r Resolver) ([]ir.Rule, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.Rule
	for i := 0; iter.Next(); i++ {
		rule, err := parseRule(iter.Value(), fmt.Sprintf("%s[%d]", field, i), r)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseRule(v cue.Value, field string, r Resolver) (ir.Rule, error) {
	precVal := v.LookupPath(cue.ParsePath("precedence"))
	cardVal := v.LookupPath(cue.ParsePath("cardinality"))

	switch {
	case precVal.Exists() && cardVal.Exists():
		return ir.Rule{}, &CompileError{Field: field, Message: "rule sets both precedence and cardinality", Pos: v.Pos()}
	case precVal.Exists():
		return parsePrecedence(precVal, field+".precedence", r)
	case cardVal.Exists():
		return parseCardinality(cardVal, field+".cardinality", r)
	default:
		return ir.Rule{}, &CompileError{Field: field, Message: "rule needs precedence or cardinality", Pos: v.Pos()}
	}
}

func parsePrecedence(v cue.Value, field string, r Resolver) (ir.Rule, error) {
	preceding, err := resolveField(v, "preceding", field, r, true)
	if err != nil {
		return ir.Rule{}, err
	}
	current, err := resolveField(v, "current", field, r, false)
	if err != nil {
		return ir.Rule{}, err
	}
	if current == nil {
		return ir.NewPrecedence(*preceding), nil
	}
	return ir.NewScopedPrecedence(*preceding, *current), nil
}

func parseCardinality(v cue.Value, field string, r Resolver) (ir.Rule, error) {
	candVal := v.LookupPath(cue.ParsePath("candidates"))
	if !candVal.Exists() {
		return ir.Rule{}, &CompileError{Field: field + ".candidates", Message: "candidates are required", Pos: v.Pos()}
	}
	iter, err := candVal.List()
	if err != nil {
		return ir.Rule{}, formatCUEError(err)
	}
	var candidates []ir.Fingerprint
	for iter.Next() {
		fp, err := resolveValue(iter.Value(), field+".candidates", r)
		if err != nil {
			return ir.Rule{}, err
		}
		candidates = append(candidates, fp)
	}

	lo, err := boundField(v, "min", field)
	if err != nil {
		return ir.Rule{}, err
	}
	hi, err := boundField(v, "max", field)
	if err != nil {
		return ir.Rule{}, err
	}
	return ir.NewCardinality(lo, hi, candidates...), nil
}

func boundField(v cue.Value, name, field string) (uint32, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return 0, &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	n, err := val.Uint64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if n > uint64(^uint32(0)) {
		return 0, &CompileError{Field: field + "." + name, Message: fmt.Sprintf("%d out of range", n), Pos: val.Pos()}
	}
	return uint32(n), nil
}

func resolveField(v cue.Value, name, field string, r Resolver, required bool) (*ir.Fingerprint, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		if required {
			return nil, &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
		}
		return nil, nil
	}
	fp, err := resolveValue(val, field+"."+name, r)
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

func resolveValue(v cue.Value, field string, r Resolver) (ir.Fingerprint, error) {
	ref, err := v.String()
	if err != nil {
		return ir.Fingerprint{}, formatCUEError(err)
	}
	fp, err := r.Resolve(ref)
	if err != nil {
		return ir.Fingerprint{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return fp, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
