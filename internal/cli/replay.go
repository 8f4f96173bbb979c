package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/poam/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	ChainID  string // optional - specific chain only
}

// ReplayChainResult holds the replay result for a single chain.
type ReplayChainResult struct {
	ChainID string   `json:"chain_id"`
	Rounds  int      `json:"rounds"`
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Chains      []ReplayChainResult `json:"chains"`
	TotalChains int                 `json:"total_chains"`
	AllValid    bool                `json:"all_valid"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-verify recorded chains from their receipts",
		Long: `Re-verify every recorded round of each chain from its stored receipt.

Each receipt is checked against the sealing key, its journal against the
recorded result, and each round against the one before it. Requires the
key_seed_hex the rounds were proven with.

Exit codes:
  0 - All chains verify
  1 - One or more chains have integrity issues
  2 - Command error (database not found, no key, etc.)

Examples:
  poam replay --db ./poam.db
  poam replay --db ./poam.db --chain 01928c6e-...
  poam replay --db ./poam.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ChainID, "chain", "", "replay specific chain only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := requireSeed(cfg); err != nil {
		return err
	}
	cfg.Database = opts.Database

	env, err := openRuntime(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose), false)
	if err != nil {
		return err
	}
	defer env.Close()

	var chainIDs []string
	if opts.ChainID != "" {
		chainIDs = []string{opts.ChainID}
	} else {
		summaries, err := env.Store.ListChains(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list chains", err)
		}
		for _, s := range summaries {
			chainIDs = append(chainIDs, s.ChainID)
		}
	}

	result := ReplayResult{
		Chains:      make([]ReplayChainResult, 0, len(chainIDs)),
		TotalChains: len(chainIDs),
		AllValid:    true,
	}
	for _, id := range chainIDs {
		formatter.VerboseLog("Replaying chain %s", id)
		rr, err := env.Service.Replay(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error("NOT_FOUND", fmt.Sprintf("chain %s not found", id), nil)
			return WrapExitError(ExitCommandError, "chain not found", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay chain %s", id), err)
		}

		cr := ReplayChainResult{ChainID: rr.ChainID, Rounds: rr.Rounds, Valid: rr.Valid}
		for _, issue := range rr.Issues {
			cr.Issues = append(cr.Issues, issue.String())
		}
		result.Chains = append(result.Chains, cr)
		if !rr.Valid {
			result.AllValid = false
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter.Writer, result)
	}

	if !result.AllValid {
		return NewExitError(ExitFailure, "replay found integrity issues")
	}
	return nil
}

func outputReplayText(w io.Writer, result ReplayResult) {
	if result.TotalChains == 0 {
		fmt.Fprintln(w, "No chains found in database.")
		return
	}

	for _, c := range result.Chains {
		if c.Valid {
			fmt.Fprintf(w, "✓ %s (%d rounds)\n", c.ChainID, c.Rounds)
			continue
		}
		fmt.Fprintf(w, "✗ %s (%d rounds)\n", c.ChainID, c.Rounds)
		for _, issue := range c.Issues {
			fmt.Fprintf(w, "  %s\n", issue)
		}
	}

	fmt.Fprintln(w)
	if result.AllValid {
		fmt.Fprintf(w, "All %d chain(s) verified\n", result.TotalChains)
	} else {
		fmt.Fprintln(w, "Replay found integrity issues")
	}
}
