package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Proof string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a proof",
		Long: `Verify a proof file against its declared image id. A proof chain file
verifies its last proof.

Exit codes:
  0 - Proof is valid
  1 - Proof is invalid
  2 - Command error (unreadable or malformed proof)

Examples:
  poam verify --proof chain.json
  poam verify --proof composite.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Proof, "proof", "", "proof or proof chain file (required)")
	_ = cmd.MarkFlagRequired("proof")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := requireSeed(cfg); err != nil {
		return err
	}
	p, err := readProof(opts.Proof)
	if err != nil {
		return err
	}

	env, err := openRuntime(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose), false)
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := env.Service.Verify(cmd.Context(), p)
	if err != nil {
		return formatter.Fail("verify failed", err)
	}

	if !resp.Valid {
		_ = formatter.Error("INVALID_PROOF", resp.Reason, nil)
		return NewExitError(ExitFailure, "proof is invalid")
	}

	if opts.Format == "json" {
		return formatter.Success(resp)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s\n", resp)
	return nil
}
