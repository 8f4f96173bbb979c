package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/poam/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen    string
	Database  string
	PolicyDir string
	Workers   int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the prove/compose/verify API over HTTP",
		Long: `Start the HTTP API for proving, composing and verifying rounds.

Configuration comes from --config, then POAM_* environment variables,
then the flags below.

Examples:
  poam serve --listen :8480 --db ./poam.db
  poam serve --config ./poam.yaml --policies ./policies`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (overrides config)")
	cmd.Flags().StringVar(&opts.PolicyDir, "policies", "", "directory of CUE policies (overrides config)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent engine calls (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.PolicyDir != "" {
		cfg.PolicyDir = opts.PolicyDir
	}
	if opts.Workers != 0 {
		cfg.Workers = opts.Workers
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	env, err := openRuntime(cfg, logger, true)
	if err != nil {
		return err
	}
	defer env.Close()

	srv := httpapi.New(env.Service, httpapi.Options{
		Metrics:        env.Metrics,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("server starting", "listen", cfg.Listen, "db", cfg.Database, "workers", cfg.Workers)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", cfg.Listen)

	if err := srv.ListenAndServe(ctx, cfg.Listen, cfg.ShutdownTimeout); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
