package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/existential-birds/daydream-sub000/internal/backend"
	"github.com/existential-birds/daydream-sub000/internal/driver"
	"github.com/existential-birds/daydream-sub000/internal/phases"
	"github.com/existential-birds/daydream-sub000/internal/vcs"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// StartAt names the phase single-pass mode should begin at, skipping
// the review skill and the phases before it; StartAtFix still parses
// the existing review artifact to obtain its items (§4.6, §6).
type StartAt string

const (
	StartAtReview StartAt = "review"
	StartAtParse  StartAt = "parse"
	StartAtFix    StartAt = "fix"
	StartAtTest   StartAt = "test"
)

// Backends resolves the backend used for each phase. Review/Fix/Test
// may each return a distinct backend.Backend; Default is used wherever
// a more specific one isn't set (§4.6 "per-phase backend overrides").
type Backends struct {
	Default backend.Backend
	Review  backend.Backend
	Fix     backend.Backend
	Test    backend.Backend
}

func (b Backends) forReview() backend.Backend {
	if b.Review != nil {
		return b.Review
	}
	return b.Default
}

func (b Backends) forFix() backend.Backend {
	if b.Fix != nil {
		return b.Fix
	}
	return b.Default
}

func (b Backends) forTest() backend.Backend {
	if b.Test != nil {
		return b.Test
	}
	return b.Default
}

// Config is the runner's full configuration, corresponding to §6's
// command-line surface.
type Config struct {
	Cwd            string
	SkillKey       string
	Backends       Backends
	StartAt        StartAt // zero value means "review"
	ReviewOnly     bool
	Loop           bool
	MaxIterations  int // default 5, per §6
	TestCommand    string
	AutoCommit     bool // loop mode always commits per-iteration; single-pass honors this for the final commit
	PRNumber       int  // > 0 selects PR-feedback mode
	Sink           driver.Sink
	Logger         *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) maxIterations() int {
	if c.MaxIterations <= 0 {
		return 5
	}
	return c.MaxIterations
}

func (c Config) startAt() StartAt {
	if c.StartAt == "" {
		return StartAtReview
	}
	return c.StartAt
}

// Result is the runner's final accumulated outcome (§4.6 "Stats").
type Result struct {
	FeedbackCount  int
	FixesApplied   int
	IterationsUsed int
	TestsPassed    bool
}

func driverFor(b backend.Backend, sink driver.Sink) *driver.Driver {
	return driver.New(b, sink)
}

// Run dispatches to PR-feedback mode, loop mode, or single-pass mode
// depending on Config (§4.6).
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Cwd == "" {
		return Result{}, apperrors.NewValidationError("target working directory must be set")
	}
	if cfg.Backends.Default == nil {
		return Result{}, apperrors.NewValidationError("a default backend must be configured")
	}

	if cfg.PRNumber > 0 {
		return runPRFeedback(ctx, cfg)
	}
	if cfg.Loop {
		return runLoop(ctx, cfg)
	}
	return runSinglePass(ctx, cfg)
}

// runSinglePass implements §4.6's single-pass sequence: target
// validation → skill selection (unless startAt=="test") → review (if
// applicable) → parseFeedback → fix-each → testAndHeal → summary →
// optional commit.
func runSinglePass(ctx context.Context, cfg Config) (Result, error) {
	sm := NewStateMachine(cfg.logger())
	deps := phases.Deps{Cwd: cfg.Cwd, Logger: cfg.logger()}
	var result Result

	// startAt in {parse, fix, test} skips skill invocation entirely; for
	// parse and fix the review artifact must already exist, and its
	// feedback items are parsed from it before fixing (§4.6).
	start := cfg.startAt()

	var items []phases.FeedbackItem
	var err error

	if start == StartAtReview {
		if cfg.SkillKey == "" {
			return result, apperrors.NewValidationError("a review skill must be selected when starting at review")
		}
		if err := phases.Review(ctx, driverFor(cfg.Backends.forReview(), cfg.Sink), deps, cfg.SkillKey); err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}
		if err := sm.Transition(PhaseParse); err != nil {
			return result, err
		}
		start = StartAtParse
	} else {
		sm.Force(PhaseParse)
	}

	if start == StartAtParse || start == StartAtFix {
		items, err = phases.ParseFeedback(ctx, driverFor(cfg.Backends.forReview(), cfg.Sink), deps)
		if err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}
		result.FeedbackCount = len(items)

		if cfg.ReviewOnly {
			sm.Force(PhaseDone)
			return result, nil
		}

		if len(items) == 0 {
			if err := sm.Transition(PhaseTest); err != nil {
				return result, err
			}
			start = StartAtTest
		} else {
			if err := sm.Transition(PhaseFix); err != nil {
				return result, err
			}
			start = StartAtFix
		}
	}

	if start == StartAtFix {
		for _, item := range items {
			if err := phases.Fix(ctx, driverFor(cfg.Backends.forFix(), cfg.Sink), deps, item); err != nil {
				sm.Force(PhaseFailed)
				return result, err
			}
			result.FixesApplied++
		}
		if err := sm.Transition(PhaseTest); err != nil {
			return result, err
		}
	} else {
		sm.Force(PhaseTest)
	}

	success, retries, err := phases.TestAndHeal(ctx, driverFor(cfg.Backends.forTest(), cfg.Sink), deps, cfg.TestCommand, nil)
	if err != nil {
		sm.Force(PhaseFailed)
		return result, err
	}
	result.TestsPassed = success
	_ = retries

	if !success {
		sm.Force(PhaseFailed)
		return result, apperrors.NewTestFailure("test suite did not reach a passing state")
	}

	if cfg.AutoCommit {
		if err := sm.Transition(PhaseCommit); err != nil {
			return result, err
		}
		if err := phases.CommitPushAuto(ctx, driverFor(cfg.Backends.Default, cfg.Sink), deps, "Apply review fixes"); err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}
	}

	sm.Force(PhaseDone)
	return result, nil
}

// runLoop implements §4.6's loop mode: a dirty-tree preflight, then up
// to maxIterations of review→parse→fix→testAndHeal, reverting and
// aborting on test failure, committing between non-clean iterations,
// and exiting successfully the first time an iteration finds zero
// feedback items.
func runLoop(ctx context.Context, cfg Config) (Result, error) {
	var result Result
	deps := phases.Deps{Cwd: cfg.Cwd, Logger: cfg.logger()}
	repo := vcs.New(cfg.Cwd, cfg.logger())

	clean, err := repo.IsClean(ctx)
	if err != nil {
		return result, err
	}
	if !clean {
		return result, apperrors.NewValidationError("loop mode requires a clean working tree at the start of every iteration")
	}

	for iteration := 1; iteration <= cfg.maxIterations(); iteration++ {
		sm := NewStateMachine(cfg.logger())
		result.IterationsUsed = iteration

		if err := phases.Review(ctx, driverFor(cfg.Backends.forReview(), cfg.Sink), deps, cfg.SkillKey); err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}
		if err := sm.Transition(PhaseParse); err != nil {
			return result, err
		}

		items, err := phases.ParseFeedback(ctx, driverFor(cfg.Backends.forReview(), cfg.Sink), deps)
		if err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}
		result.FeedbackCount += len(items)

		if len(items) == 0 {
			sm.Force(PhaseDone)
			return result, nil
		}

		if err := sm.Transition(PhaseFix); err != nil {
			return result, err
		}
		for _, item := range items {
			if err := phases.Fix(ctx, driverFor(cfg.Backends.forFix(), cfg.Sink), deps, item); err != nil {
				sm.Force(PhaseFailed)
				return result, err
			}
			result.FixesApplied++
		}

		if err := sm.Transition(PhaseTest); err != nil {
			return result, err
		}
		success, _, err := phases.TestAndHeal(ctx, driverFor(cfg.Backends.forTest(), cfg.Sink), deps, cfg.TestCommand, nil)
		if err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}

		if !success {
			if revertErr := repo.RevertUncommittedChanges(ctx); revertErr != nil {
				return result, revertErr
			}
			sm.Force(PhaseFailed)
			return result, apperrors.NewTestFailure(fmt.Sprintf("iteration %d: test suite did not reach a passing state", iteration))
		}
		result.TestsPassed = true

		clean, err := repo.IsClean(ctx)
		if err != nil {
			return result, err
		}
		if clean { // IsClean returned true: nothing to commit
			sm.Force(PhaseDone)
			continue
		}

		if err := sm.Transition(PhaseCommit); err != nil {
			return result, err
		}
		if err := phases.CommitPushAuto(ctx, driverFor(cfg.Backends.Default, cfg.Sink), deps, phases.IterationCommitMessage(iteration)); err != nil {
			sm.Force(PhaseFailed)
			return result, err
		}
		sm.Force(PhaseDone)
	}

	return result, apperrors.NewValidationError("loop mode exhausted its iteration budget without a clean iteration")
}

// runPRFeedback implements §4.6's PR-feedback sequence: fetch → parse
// (implicit in fetch's shared schema) → fixParallel → commitPushAuto
// (abort if zero successful) → respondPrFeedback.
func runPRFeedback(ctx context.Context, cfg Config) (Result, error) {
	var result Result
	deps := phases.Deps{Cwd: cfg.Cwd, Logger: cfg.logger()}

	items, err := phases.FetchPrFeedback(ctx, driverFor(cfg.Backends.forReview(), cfg.Sink), deps, cfg.PRNumber)
	if err != nil {
		return result, err
	}
	result.FeedbackCount = len(items)
	if len(items) == 0 {
		return result, nil
	}

	fixBackend := cfg.Backends.forFix()
	results := phases.FixParallel(ctx, func(item phases.FeedbackItem) *driver.Driver {
		return driverFor(fixBackend, cfg.Sink)
	}, deps, items)

	successful := phases.SuccessfulItems(results)
	result.FixesApplied = len(successful)

	if phases.AllFailed(results) {
		return result, apperrors.NewInternalError("all fixes failed in PR-feedback mode; nothing to commit")
	}

	if err := phases.CommitPushAuto(ctx, driverFor(cfg.Backends.Default, cfg.Sink), deps, fmt.Sprintf("Address PR #%d feedback", cfg.PRNumber)); err != nil {
		return result, err
	}

	if err := phases.RespondPrFeedback(ctx, driverFor(cfg.Backends.Default, cfg.Sink), deps, cfg.PRNumber, results); err != nil {
		return result, err
	}

	return result, nil
}
