package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/poam/internal/service"
)

// ComposeOptions holds flags for the compose command.
type ComposeOptions struct {
	*RootOptions
	Chain string
	Out   string
}

// NewComposeCommand creates the compose command.
func NewComposeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ComposeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Fold a proof chain into one composite proof",
		Long: `Compose every proof of a chain into a single receipt of the composition guest.

Examples:
  poam compose --chain chain.json --out composite.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompose(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Chain, "chain", "", "proof chain file (required)")
	_ = cmd.MarkFlagRequired("chain")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write the composite proof to this file")

	return cmd
}

func runCompose(opts *ComposeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	chain, err := readProofChain(opts.Chain)
	if err != nil {
		return err
	}

	env, err := openRuntime(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose), false)
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := env.Service.Compose(cmd.Context(), service.ComposeRequest{ProofChain: chain})
	if err != nil {
		return formatter.Fail("compose failed", err)
	}

	if opts.Out != "" {
		if err := writeJSONFile(opts.Out, resp.Proof); err != nil {
			return err
		}
	}

	if opts.Format == "json" {
		return formatter.Success(resp)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s\n", resp)
	return nil
}
