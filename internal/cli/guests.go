package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGuestsCommand creates the guests command.
func NewGuestsCommand(rootOpts *RootOptions) *cobra.Command {
	var policyDir string

	cmd := &cobra.Command{
		Use:   "guests",
		Short: "List registered guests and their image ids",
		Long: `List every guest the prover can run, with the image id rules and
policies refer to it by. With --policies, marks the guests a policy covers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuests(rootOpts, policyDir, cmd)
		},
	}

	cmd.Flags().StringVar(&policyDir, "policies", "", "directory of CUE policies")

	return cmd
}

func runGuests(opts *RootOptions, policyDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if policyDir != "" {
		cfg.PolicyDir = policyDir
	}
	// Listing never proves or records anything.
	cfg.Database = ""

	env, err := openRuntime(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose), false)
	if err != nil {
		return err
	}
	defer env.Close()

	guests := env.Service.Guests()
	if opts.Format == "json" {
		return formatter.Success(map[string]any{"guests": guests})
	}

	for _, g := range guests {
		marks := ""
		if g.Composite {
			marks += " composite"
		}
		if g.HasPolicy {
			marks += " policy"
		}
		fmt.Fprintf(formatter.Writer, "%-16s %-6s %s%s\n", g.Name, g.Version, g.ImageHex, marks)
	}
	return nil
}
