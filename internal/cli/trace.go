package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	ChainID  string // optional - specific chain only
}

// TraceRound is one recorded round as the trace command prints it.
type TraceRound struct {
	Round         uint64 `json:"round"`
	ID            string `json:"id"`
	Guest         string `json:"guest"`
	PreviousGuest string `json:"previous_guest,omitempty"`
	Result        string `json:"result"`
	Rules         int    `json:"rules"`
	Seq           int64  `json:"seq"`
}

// TraceChain is one chain in the trace listing.
type TraceChain struct {
	ChainID string       `json:"chain_id"`
	Rounds  int          `json:"rounds"`
	Latest  uint64       `json:"latest"`
	Detail  []TraceRound `json:"detail,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Chains []TraceChain `json:"chains"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded chains and their rounds",
		Long: `Show the rounds recorded in the audit database.

Without --chain, lists every chain, most recently written first.
With --chain, shows each round of that chain in order: which guest ran,
which guest preceded it, the result and how many rules constrained it.

Examples:
  poam trace --db ./poam.db
  poam trace --db ./poam.db --chain 01928c6e-...
  poam trace --db ./poam.db --chain 01928c6e-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ChainID, "chain", "", "show a specific chain only")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := prover.NewRegistry(guest.All()...)
	if err != nil {
		return err
	}

	var result TraceResult
	if opts.ChainID != "" {
		records, err := st.ReadChain(ctx, opts.ChainID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read chain", err)
		}
		if len(records) == 0 {
			_ = formatter.Error("NOT_FOUND", fmt.Sprintf("chain %s not found", opts.ChainID), nil)
			return WrapExitError(ExitCommandError, "chain not found", store.ErrNotFound)
		}
		result.Chains = []TraceChain{chainOf(opts.ChainID, records, reg)}
	} else {
		summaries, err := st.ListChains(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list chains", err)
		}
		result.Chains = make([]TraceChain, 0, len(summaries))
		for _, s := range summaries {
			result.Chains = append(result.Chains, TraceChain{ChainID: s.ChainID, Rounds: s.Rounds, Latest: s.Latest})
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.ChainID != "")
}

func chainOf(chainID string, records []store.RoundRecord, reg *prover.Registry) TraceChain {
	tc := TraceChain{ChainID: chainID, Rounds: len(records), Detail: make([]TraceRound, 0, len(records))}
	for _, rec := range records {
		tr := TraceRound{
			Round:  rec.Round,
			ID:     rec.ID,
			Guest:  reg.NameOf(rec.ImageID),
			Result: rec.Result,
			Seq:    rec.Seq,
		}
		if rec.PreviousImageID != nil {
			tr.PreviousGuest = reg.NameOf(*rec.PreviousImageID)
		}
		if rec.Rules != nil {
			tr.Rules = len(rec.Rules.Rules) + len(rec.Rules.OrderingRules)
		}
		tc.Detail = append(tc.Detail, tr)
		tc.Latest = rec.Round
	}
	return tc
}

func outputTraceText(w io.Writer, result TraceResult, detail bool) error {
	if len(result.Chains) == 0 {
		fmt.Fprintln(w, "No chains found in database.")
		return nil
	}

	if !detail {
		for _, c := range result.Chains {
			fmt.Fprintf(w, "%s  rounds=%d latest=%d\n", c.ChainID, c.Rounds, c.Latest)
		}
		return nil
	}

	c := result.Chains[0]
	fmt.Fprintf(w, "Chain %s (%d rounds)\n\n", c.ChainID, c.Rounds)
	for _, r := range c.Detail {
		prev := "-"
		if r.PreviousGuest != "" {
			prev = r.PreviousGuest
		}
		fmt.Fprintf(w, "  #%d  %-10s after %-10s result=%s rules=%d  [%s]\n",
			r.Round, r.Guest, prev, r.Result, r.Rules, truncateID(r.ID))
	}
	return nil
}

// truncateID shortens a content-addressed id for display.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
