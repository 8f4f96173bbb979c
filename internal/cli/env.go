package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/poam/internal/config"
	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/metrics"
	"github.com/roach88/poam/internal/policy"
	"github.com/roach88/poam/internal/prover"
	"github.com/roach88/poam/internal/service"
	"github.com/roach88/poam/internal/store"
	"github.com/roach88/poam/internal/zkvm"
)

// newLogger returns the text logger every command writes diagnostics to.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config (if any) and the environment. Flag overrides
// are applied by each command afterwards.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// buildEngine returns the local engine for cfg. Without a configured seed
// a random one is used, so receipts only verify within this process.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*zkvm.LocalEngine, error) {
	if cfg.KeySeedHex != "" {
		e, err := zkvm.NewLocalEngineFromHex(cfg.KeySeedHex, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid key seed", err)
		}
		return e, nil
	}

	seed, err := zkvm.GenerateSeed()
	if err != nil {
		return nil, err
	}
	logger.Warn("no key_seed_hex configured; using an ephemeral sealing key")
	return zkvm.NewLocalEngine(seed, logger)
}

// requireSeed fails commands whose output must verify later.
func requireSeed(cfg *config.Config) error {
	if cfg.KeySeedHex == "" {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("a sealing key is required: set key_seed_hex or %s", config.EnvKeySeedHex))
	}
	if _, err := hex.DecodeString(cfg.KeySeedHex); err != nil {
		return WrapExitError(ExitCommandError, "invalid key seed", err)
	}
	return nil
}

// loadPolicies compiles cfg.PolicyDir against reg. An empty directory
// setting yields an empty set.
func loadPolicies(cfg *config.Config, reg *prover.Registry) (*policy.Set, error) {
	if cfg.PolicyDir == "" {
		return nil, nil
	}
	set, errs := policy.Load(cfg.PolicyDir, reg, policy.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to load policies", errs[0])
	}
	return set, nil
}

// openStore opens path, or returns nil when path is empty.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// runtimeEnv is the wiring shared by the commands that prove.
type runtimeEnv struct {
	Config  *config.Config
	Logger  *slog.Logger
	Engine  *zkvm.LocalEngine
	Store   *store.Store
	Metrics *metrics.Metrics
	Service *service.Service
}

// Close releases the audit store.
func (r *runtimeEnv) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// openRuntime builds the service for cfg. withMetrics registers the
// Prometheus collectors, which only the server exposes.
func openRuntime(cfg *config.Config, logger *slog.Logger, withMetrics bool) (*runtimeEnv, error) {
	reg, err := prover.NewRegistry(guest.All()...)
	if err != nil {
		return nil, err
	}
	policies, err := loadPolicies(cfg, reg)
	if err != nil {
		return nil, err
	}
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	env := &runtimeEnv{Config: cfg, Logger: logger, Engine: engine, Store: st}
	if withMetrics {
		env.Metrics = metrics.New()
	}

	svc, err := service.New(service.Options{
		Engine:       engine,
		Registry:     reg,
		Policies:     policies,
		Store:        st,
		Metrics:      env.Metrics,
		Logger:       logger,
		Workers:      cfg.Workers,
		Filter:       cfg.Filter,
		RequireRules: cfg.RequireRules,
	})
	if err != nil {
		return nil, errors.Join(err, env.Close())
	}
	env.Service = svc

	if policies != nil {
		logger.Info("policies loaded", "dir", cfg.PolicyDir, "policies", policies.Len(), "files", policies.FileCount())
	}
	return env, nil
}
