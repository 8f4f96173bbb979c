package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/poam/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes reported by Load.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeGuest          = "E201" // Missing or unknown guest
	ErrCodeRule           = "E202" // Malformed rule
	ErrCodeDuplicateGuest = "E203" // Two policies target one guest
)

// LoadError is an error that occurred while loading a policy directory.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Set is an immutable collection of policies keyed by guest.
// The zero value and nil are empty sets.
type Set struct {
	policies []*Policy
	byGuest  map[ir.Fingerprint]*Policy
	files    int
}

// NewSet builds a set, rejecting two policies for the same guest.
func NewSet(ps ...*Policy) (*Set, error) {
	s := &Set{byGuest: make(map[ir.Fingerprint]*Policy, len(ps))}
	for _, p := range ps {
		if err := s.add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) add(p *Policy) error {
	if prev, ok := s.byGuest[p.Guest]; ok {
		return &LoadError{
			Code:    ErrCodeDuplicateGuest,
			Message: fmt.Sprintf("policies %q and %q both target guest %s", prev.Name, p.Name, p.GuestRef),
		}
	}
	s.byGuest[p.Guest] = p
	s.policies = append(s.policies, p)
	sort.Slice(s.policies, func(i, j int) bool { return s.policies[i].Name < s.policies[j].Name })
	return nil
}

// For returns the rule set declared for imageID.
func (s *Set) For(imageID ir.Fingerprint) (*ir.RuleInput, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.byGuest[imageID]
	if !ok {
		return nil, false
	}
	return p.Rules, true
}

// Policies returns all policies sorted by name.
func (s *Set) Policies() []*Policy {
	if s == nil {
		return nil
	}
	return append([]*Policy(nil), s.policies...)
}

// Len returns the number of policies.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.policies)
}

// FileCount returns the number of CUE files the set was loaded from.
func (s *Set) FileCount() int {
	if s == nil {
		return 0
	}
	return s.files
}

// Load reads every policy in dir. In LoadModeCollectAll the returned set
// holds the policies that compiled, alongside the errors of those that did
// not.
func Load(dir string, r Resolver, mode LoadMode) (*Set, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing policy directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	set, errs := FromValue(value, r, mode)
	if set != nil {
		set.files = len(cueFiles)
	}
	return set, errs
}

// FromValue compiles every entry under the top-level "policy" field of v.
// A value without policies yields an empty set.
func FromValue(v cue.Value, r Resolver, mode LoadMode) (*Set, []error) {
	set := &Set{byGuest: make(map[ir.Fingerprint]*Policy)}
	var errs []error

	policiesVal := v.LookupPath(cue.ParsePath("policy"))
	if !policiesVal.Exists() {
		return set, nil
	}
	iter, err := policiesVal.Fields()
	if err != nil {
		return set, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating policies: %v", err)}}
	}
	for iter.Next() {
		p, err := Compile(iter.Value(), r)
		if err == nil {
			err = set.add(p)
		}
		if err != nil {
			errs = append(errs, convertCompileError(err, "policy."+iter.Selector().String()))
			if mode == LoadModeFailFast {
				return set, errs
			}
		}
	}
	return set, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, context string) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr
	}
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    mapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

func mapFieldToErrorCode(field string) string {
	switch {
	case field == "guest":
		return ErrCodeGuest
	case field == "cue":
		return ErrCodeGeneric
	default:
		return ErrCodeRule
	}
}
