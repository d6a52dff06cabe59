package phases

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/existential-birds/daydream-sub000/internal/driver"
	"github.com/existential-birds/daydream-sub000/internal/event"
)

// successMarkers / failureMarkers implement the success-classification
// heuristic of §9's first open question: a small configurable regex
// set scanned case-insensitively over agent output.
var successMarkers = regexp.MustCompile(`(?i)\b(success|pass(ed)?|all tests passed)\b`)
var failureMarkers = regexp.MustCompile(`(?i)\b(fail(ed|ure)?|error)\b`)

// Menu choices offered when the test result is ambiguous (§4.5).
type Menu string

const (
	MenuRetry           Menu = "retry"
	MenuFixAndRetry      Menu = "fix-and-retry"
	MenuIgnoreAndContinue Menu = "ignore-and-continue"
	MenuAbort            Menu = "abort"
)

// MenuResolver is consulted when test output is ambiguous. With a nil
// resolver, TestAndHeal treats ambiguous output as failure; the runner
// passes nil in single-pass and loop mode alike, so no menu is shown.
type MenuResolver func(output string) Menu

// maxTestRetries bounds the fail->fix->retry cycle within one
// testAndHeal call.
const maxTestRetries = 5

// TestAndHeal runs the test suite, classifies success by scanning
// agent output for success/failure markers, threads the continuation
// token through every retry/fix turn, and falls back to a menu when
// the result is ambiguous (§4.5 testAndHeal).
func TestAndHeal(ctx context.Context, d *driver.Driver, deps Deps, testCommand string, resolveMenu MenuResolver) (success bool, retriesUsed int, err error) {
	var continuation *event.ContinuationToken
	fixNext := false

	for attempt := 0; attempt <= maxTestRetries; attempt++ {
		prompt := fmt.Sprintf("Run the test suite (%s) and report pass/fail with the failure output if any.", testCommand)
		if fixNext {
			prompt = "Fix the reported test failure with a minimal change, then re-run the test suite and report pass/fail."
		}

		out, runErr := d.Run(ctx, deps.Cwd, prompt, nil, continuation)
		if runErr != nil {
			return false, attempt, runErr
		}
		continuation = out.Continuation

		classification := classify(out.FinalOutput)
		switch classification {
		case outcomePass:
			return true, attempt, nil
		case outcomeFail:
			if attempt == maxTestRetries {
				return false, attempt, nil
			}
			fixNext = true
			continue
		default: // ambiguous
			if resolveMenu == nil {
				return false, attempt, nil
			}
			switch resolveMenu(out.FinalOutput) {
			case MenuRetry:
				fixNext = false
				continue
			case MenuFixAndRetry:
				fixNext = true
				continue
			case MenuIgnoreAndContinue:
				return true, attempt, nil
			case MenuAbort:
				return false, attempt, nil
			default:
				return false, attempt, nil
			}
		}
	}
	return false, maxTestRetries, nil
}

type testOutcome int

const (
	outcomeAmbiguous testOutcome = iota
	outcomePass
	outcomeFail
)

func classify(output string) testOutcome {
	trimmed := strings.TrimSpace(output)
	pass := successMarkers.MatchString(trimmed)
	fail := failureMarkers.MatchString(trimmed)
	switch {
	case pass && !fail:
		return outcomePass
	case fail && !pass:
		return outcomeFail
	default:
		return outcomeAmbiguous
	}
}
