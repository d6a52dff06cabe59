// Command daydream is the orchestrator's CLI entry point: it loads
// config, builds the selected backends, and drives internal/runner (or
// internal/rlm in --rlm mode) over a target repository (§6).
//
// Grounded on the teacher's cmd/cli/main.go cobra root command plus
// signal-to-context-cancellation wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/existential-birds/daydream-sub000/internal/backend"
	"github.com/existential-birds/daydream-sub000/internal/backend/sdkbackend"
	"github.com/existential-birds/daydream-sub000/internal/backend/subprocess"
	"github.com/existential-birds/daydream-sub000/internal/config"
	"github.com/existential-birds/daydream-sub000/internal/driver"
	"github.com/existential-birds/daydream-sub000/internal/logging"
	"github.com/existential-birds/daydream-sub000/internal/phases"
	"github.com/existential-birds/daydream-sub000/internal/rlm"
	"github.com/existential-birds/daydream-sub000/internal/runner"
	"github.com/existential-birds/daydream-sub000/internal/vcs"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

const cliName = "daydream"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := newCLIConfig()
	rootCmd := &cobra.Command{
		Use:           cliName + " [target]",
		Short:         "daydream — automated code-review-and-fix orchestrator",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return runReview(cmd.Context(), target, cfg)
		},
	}
	bindFlags(rootCmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			close(interrupted)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := rootCmd.ExecuteContext(ctx)

	select {
	case <-interrupted:
		return 130
	default:
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "daydream:", err)
		return 1
	}
	return 0
}

// cliConfig collects cobra flag destinations; populated by bindFlags
// and merged over internal/config.Config in runReview.
type cliConfig struct {
	skill         string
	model         string
	backendName   string
	reviewBackend string
	fixBackend    string
	testBackend   string
	startAt       string
	reviewOnly    bool
	loop          bool
	maxIterations int
	debug         bool
	cleanup       bool
	pr            int
	bot           string
	rlm           bool
}

func newCLIConfig() *cliConfig { return &cliConfig{} }

func bindFlags(cmd *cobra.Command, c *cliConfig) {
	f := cmd.Flags()
	f.StringVar(&c.skill, "skill", "", "review skill key: python, react, elixir")
	f.StringVar(&c.model, "model", "", "default model identifier passed to backends")
	f.StringVar(&c.backendName, "backend", "", "default backend: claude, codex")
	f.StringVar(&c.reviewBackend, "review-backend", "", "backend override for the review phase")
	f.StringVar(&c.fixBackend, "fix-backend", "", "backend override for the fix phase")
	f.StringVar(&c.testBackend, "test-backend", "", "backend override for the test phase")
	f.StringVar(&c.startAt, "start-at", "", "entry phase: review, parse, fix, test")
	f.BoolVar(&c.reviewOnly, "review-only", false, "stop after parseFeedback")
	f.BoolVar(&c.loop, "loop", false, "enable loop mode")
	f.IntVar(&c.maxIterations, "max-iterations", 0, "loop/RLM iteration budget")
	f.BoolVar(&c.debug, "debug", false, "emit a debug log file")
	f.BoolVar(&c.cleanup, "cleanup", false, "remove the review artifact on completion")
	f.IntVar(&c.pr, "pr", 0, "enter PR-feedback mode for this PR number")
	f.StringVar(&c.bot, "bot", "", "review bot identity to address in PR-feedback mode")
	f.BoolVar(&c.rlm, "rlm", false, "use the recursive-LM REPL instead of the skill-driven flow")
}

func runReview(ctx context.Context, target string, cli *cliConfig) error {
	target, err := filepath.Abs(target)
	if err != nil {
		return apperrors.NewValidationError("could not resolve target path: " + err.Error())
	}
	if info, statErr := os.Stat(target); statErr != nil || !info.IsDir() {
		return apperrors.NewValidationError("target is not a directory: " + target)
	}

	fileCfg, err := config.Load(target)
	if err != nil {
		return err
	}
	applyFlagOverrides(fileCfg, cli)

	logger, closeLog, err := logging.New(logging.Config{
		Level:  fileCfg.Log.Level,
		Format: fileCfg.Log.Format,
		Debug:  fileCfg.Log.Debug,
		Cwd:    target,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	defer logger.Sync()

	if cli.rlm {
		return runRLM(ctx, target, fileCfg, logger)
	}

	backends, err := buildBackends(fileCfg, logger)
	if err != nil {
		return err
	}

	runnerCfg := runner.Config{
		Cwd:           target,
		SkillKey:      fileCfg.Runner.SkillKey,
		Backends:      backends,
		StartAt:       runner.StartAt(fileCfg.Runner.StartAt),
		ReviewOnly:    fileCfg.Runner.ReviewOnly,
		Loop:          fileCfg.Runner.Loop,
		MaxIterations: fileCfg.Runner.MaxIterations,
		TestCommand:   fileCfg.Runner.TestCommand,
		AutoCommit:    true,
		PRNumber:      cli.pr,
		Sink:          driver.NopSink,
		Logger:        logger,
	}

	result, runErr := runner.Run(ctx, runnerCfg)

	if fileCfg.Runner.Cleanup {
		if removeErr := os.Remove(phases.ReviewOutputPath(target)); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("failed to remove review artifact", zap.Error(removeErr))
		}
	}

	if runErr != nil {
		return runErr
	}

	logger.Info("review complete",
		zap.Int("feedback_count", result.FeedbackCount),
		zap.Int("fixes_applied", result.FixesApplied),
		zap.Int("iterations_used", result.IterationsUsed),
		zap.Bool("tests_passed", result.TestsPassed),
	)
	return nil
}

func applyFlagOverrides(cfg *config.Config, cli *cliConfig) {
	if cli.skill != "" {
		cfg.Runner.SkillKey = cli.skill
	}
	if cli.model != "" {
		cfg.Backend.Model = cli.model
	}
	if cli.backendName != "" {
		cfg.Backend.Default = cli.backendName
	}
	if cli.reviewBackend != "" {
		cfg.Backend.Review = cli.reviewBackend
	}
	if cli.fixBackend != "" {
		cfg.Backend.Fix = cli.fixBackend
	}
	if cli.testBackend != "" {
		cfg.Backend.Test = cli.testBackend
	}
	if cli.startAt != "" {
		cfg.Runner.StartAt = cli.startAt
	}
	if cli.reviewOnly {
		cfg.Runner.ReviewOnly = true
	}
	if cli.loop {
		cfg.Runner.Loop = true
	}
	if cli.maxIterations > 0 {
		cfg.Runner.MaxIterations = cli.maxIterations
		cfg.RLM.MaxIterations = cli.maxIterations
	}
	if cli.debug {
		cfg.Log.Debug = true
	}
	if cli.cleanup {
		cfg.Runner.Cleanup = true
	}
}

// buildBackends constructs the default backend plus any per-phase
// overrides named in cfg (§4.6 "per-phase backend overrides").
func buildBackends(cfg *config.Config, logger *zap.Logger) (runner.Backends, error) {
	def, err := newBackend(cfg.Backend.Default, cfg, logger)
	if err != nil {
		return runner.Backends{}, err
	}
	backends := runner.Backends{Default: def}

	if cfg.Backend.Review != "" && cfg.Backend.Review != cfg.Backend.Default {
		if backends.Review, err = newBackend(cfg.Backend.Review, cfg, logger); err != nil {
			return runner.Backends{}, err
		}
	}
	if cfg.Backend.Fix != "" && cfg.Backend.Fix != cfg.Backend.Default {
		if backends.Fix, err = newBackend(cfg.Backend.Fix, cfg, logger); err != nil {
			return runner.Backends{}, err
		}
	}
	if cfg.Backend.Test != "" && cfg.Backend.Test != cfg.Backend.Default {
		if backends.Test, err = newBackend(cfg.Backend.Test, cfg, logger); err != nil {
			return runner.Backends{}, err
		}
	}
	return backends, nil
}

// driverQuerier adapts a driver.Driver into an rlm.Querier, giving the
// RLM root loop and its llm_query/llm_query_parallel callbacks a single
// text-only turn over the configured default backend. The backend's
// model is fixed at construction (cfg.Backend.Model); the model
// argument sub-LM calls pass is accepted for API parity with §4.7 but
// does not select a different backend instance.
type driverQuerier struct {
	d   *driver.Driver
	cwd string
}

func (q driverQuerier) Query(ctx context.Context, prompt, model string) (string, error) {
	out, err := q.d.Run(ctx, q.cwd, prompt, nil, nil)
	if err != nil {
		return "", err
	}
	return out.FinalOutput, nil
}

// runRLM drives the recursive-LM REPL (§4.7) over target instead of the
// skill-driven phase flow, replacing Review+Fix with one open-ended
// loop that reviews the diff against the default branch and applies
// whatever fixes it judges necessary.
func runRLM(ctx context.Context, target string, cfg *config.Config, logger *zap.Logger) error {
	def, err := newBackend(cfg.Backend.Default, cfg, logger)
	if err != nil {
		return err
	}
	d := driver.New(def, driver.NopSink)

	repo := vcs.New(target, logger)
	base, err := repo.DefaultBranch(ctx)
	if err != nil {
		return err
	}
	diff, err := repo.Diff(ctx, base)
	if err != nil {
		return err
	}

	repoCtx, err := rlm.LoadRepoContext(target, cfg.RLM.Languages)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to load repo context for rlm mode", err)
	}

	querier := driverQuerier{d: d, cwd: target}
	ns := rlm.NewNamespace(repoCtx, querier, logger)

	sandbox, err := rlm.NewSandbox(ctx, cfg.Sandbox.PythonPath, ns, logger)
	if err != nil {
		return err
	}
	defer sandbox.Close()

	task := fmt.Sprintf(
		"Review the following diff against %s. Investigate and fix any issues you find, running the repository's tests to confirm your changes.\n\n%s",
		base, diff,
	)

	report, err := rlm.Run(ctx, rlm.Config{
		Root:             querier,
		RootModel:        cfg.Backend.Model,
		Repo:             repoCtx,
		Sandbox:          sandbox,
		MaxIterations:    cfg.RLM.MaxIterations,
		RecentCount:      cfg.RLM.RecentCount,
		MaxHistoryTokens: cfg.RLM.MaxHistoryTokens,
		Logger:           logger,
	}, task)
	if err != nil {
		return err
	}

	logger.Info("rlm session complete", zap.Int("iterations", report.Iterations))
	fmt.Println(report.Answer)
	return nil
}

func newBackend(name string, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
	switch name {
	case "", "claude":
		return sdkbackend.New(sdkbackend.Config{
			APIKey:  cfg.Backend.ClaudeAPIKey,
			BaseURL: cfg.Backend.ClaudeBaseURL,
			Model:   cfg.Backend.Model,
			Logger:  logger,
		}), nil
	case "codex":
		return subprocess.New(subprocess.Config{
			CLIPath: cfg.Backend.CodexCLIPath,
			Model:   cfg.Backend.Model,
			Sandbox: cfg.Backend.CodexSandbox,
			Logger:  logger,
		}), nil
	default:
		return nil, apperrors.NewValidationError("unknown backend: " + name)
	}
}
