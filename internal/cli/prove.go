package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/service"
)

// ProveOptions holds flags for the prove command.
type ProveOptions struct {
	*RootOptions
	Operation string
	A, B      float64
	Guest     string // optional guest name or hex image id
	Chain     string // proof chain file to continue
	Rules     string // JSON rule set file
	NoRules   bool   // explicit empty rule set
	Out       string // where to write the extended chain
	Database  string
	PolicyDir string
}

// NewProveCommand creates the prove command.
func NewProveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove one round of a chain",
		Long: `Prove one operation, continuing the proof chain in --chain or starting a new one.

Rules come from --rules (JSON rule set), else from the policy for the guest,
else none. The extended chain is written to --out, so a later prove, compose
or verify can pick it up. Proofs only verify under the same key_seed_hex.

Exit codes:
  0 - Round proven
  1 - Round rejected by a rule, or the engine failed
  2 - Command error (bad input, unknown guest, malformed rules)

Examples:
  poam prove --op add --a 2 --b 3 --out chain.json
  poam prove --op mul --a 5 --b 2 --chain chain.json --out chain.json
  poam prove --op mul --a 5 --b 2 --chain chain.json --rules rules.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Operation, "op", "", "operation: add, sub, mul or div (required)")
	_ = cmd.MarkFlagRequired("op")
	cmd.Flags().Float64Var(&opts.A, "a", 0, "first operand")
	cmd.Flags().Float64Var(&opts.B, "b", 0, "second operand")
	cmd.Flags().StringVar(&opts.Guest, "guest", "", "guest name or image id (defaults to the operation's guest)")
	cmd.Flags().StringVar(&opts.Chain, "chain", "", "proof chain file to continue")
	cmd.Flags().StringVar(&opts.Rules, "rules", "", "JSON rule set file")
	cmd.Flags().BoolVar(&opts.NoRules, "no-rules", false, "prove with an explicit empty rule set")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write the extended proof chain to this file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the round in this SQLite database")
	cmd.Flags().StringVar(&opts.PolicyDir, "policies", "", "directory of CUE policies")
	cmd.MarkFlagsMutuallyExclusive("rules", "no-rules")

	return cmd
}

func runProve(opts *ProveOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.PolicyDir != "" {
		cfg.PolicyDir = opts.PolicyDir
	}

	req := service.ProveRequest{
		Operation: ir.OperationRequest{A: opts.A, B: opts.B, Operation: opts.Operation},
	}
	if opts.Chain != "" {
		if req.ProofChain, err = readProofChain(opts.Chain); err != nil {
			return err
		}
	}
	switch {
	case opts.NoRules:
		req.Rules = &ir.RuleInput{}
	case opts.Rules != "":
		var rs ir.RuleInput
		if err := readJSONFile(opts.Rules, &rs); err != nil {
			return err
		}
		req.Rules = &rs
	}

	env, err := openRuntime(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose), false)
	if err != nil {
		return err
	}
	defer env.Close()

	if opts.Guest != "" {
		fp, err := env.Service.Registry().Resolve(opts.Guest)
		if err != nil {
			return formatter.Fail("failed to resolve guest", err)
		}
		req.ImageID = fp.Words()
	}

	formatter.VerboseLog("Proving %s(%v, %v) on a chain of %d proofs", opts.Operation, opts.A, opts.B, len(req.ProofChain))

	resp, err := env.Service.Prove(cmd.Context(), req)
	if err != nil {
		return formatter.Fail("prove failed", err)
	}

	if opts.Out != "" {
		if err := writeJSONFile(opts.Out, resp.ProofChain); err != nil {
			return err
		}
		formatter.VerboseLog("Wrote %d proofs to %s", len(resp.ProofChain), opts.Out)
	}

	if opts.Format == "json" {
		return formatter.Success(resp)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s\n", resp)
	return nil
}
