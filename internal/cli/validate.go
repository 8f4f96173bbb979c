package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/policy"
	"github.com/roach88/poam/internal/prover"
)

// ValidationError is one problem found in a policy directory.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// PolicySummary names one valid policy.
type PolicySummary struct {
	Name  string `json:"name"`
	Guest string `json:"guest"`
	Rules int    `json:"rules"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Policies []PolicySummary   `json:"policies,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <policy-dir>",
		Short: "Validate CUE policies against the guest registry",
		Long: `Validate the CUE policies in a directory without proving anything.

Every policy must name a registered guest, every rule must reference
registered guests or 64-character image ids, and no two policies may
target the same guest.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	reg, err := prover.NewRegistry(guest.All()...)
	if err != nil {
		return err
	}

	set, loadErrs := policy.Load(dir, reg, policy.LoadModeCollectAll)

	// Directory-level failures leave no set to report on.
	if set == nil {
		code, message := policy.ErrCodeGeneric, loadErrs[0].Error()
		var loadErr *policy.LoadError
		if errors.As(loadErrs[0], &loadErr) {
			code, message = loadErr.Code, loadErr.Message
		}
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", set.FileCount(), dir)

	result := ValidationResult{Valid: len(loadErrs) == 0}
	for _, p := range set.Policies() {
		n := 0
		if p.Rules != nil {
			n = len(p.Rules.Rules) + len(p.Rules.OrderingRules)
		}
		result.Policies = append(result.Policies, PolicySummary{Name: p.Name, Guest: reg.NameOf(p.Guest), Rules: n})
	}
	for _, err := range loadErrs {
		result.Errors = append(result.Errors, validationErrorOf(err))
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	for _, p := range result.Policies {
		formatter.VerboseLog("  %s: %s (%d rules)", p.Name, p.Guest, p.Rules)
	}
	fmt.Fprintf(formatter.Writer, "✓ All policies valid (%d)\n", len(result.Policies))
	return nil
}

func validationErrorOf(err error) ValidationError {
	var loadErr *policy.LoadError
	if !errors.As(err, &loadErr) {
		return ValidationError{Code: policy.ErrCodeGeneric, Message: err.Error()}
	}
	ve := ValidationError{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		ve.File = loadErr.Pos.Filename()
		ve.Line = loadErr.Pos.Line()
	}
	return ve
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", err.File, err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
