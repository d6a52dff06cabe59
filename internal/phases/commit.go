package phases

import (
	"context"
	"fmt"

	"github.com/existential-birds/daydream-sub000/internal/driver"
)

// commitPushSkill is the named skill invoked by commit/commitPushAuto
// (§4.5, GLOSSARY "Skill").
const commitPushSkill = "commit-push"

// Commit invokes the commit-push skill with the interactive y/n prompt
// left in place (single-pass mode default).
func Commit(ctx context.Context, d *driver.Driver, deps Deps, message string) error {
	return commit(ctx, d, deps, message, false)
}

// CommitPushAuto invokes the commit-push skill with the y/n prompt
// skipped (loop-mode inter-iteration commits and PR-feedback mode,
// §4.5, §4.6).
func CommitPushAuto(ctx context.Context, d *driver.Driver, deps Deps, message string) error {
	return commit(ctx, d, deps, message, true)
}

func commit(ctx context.Context, d *driver.Driver, deps Deps, message string, auto bool) error {
	invocation := d.Backend.FormatSkillInvocation(commitPushSkill, message)
	prompt := invocation
	if auto {
		prompt += "\n\nDo not prompt for confirmation; commit directly."
	}
	_, err := d.Run(ctx, deps.Cwd, prompt, nil, nil)
	return err
}

// IterationCommitMessage builds the loop-mode inter-iteration commit
// message instructing the agent not to push (§4.6, §9).
func IterationCommitMessage(iteration int) string {
	return fmt.Sprintf("Commit all changes from iteration %d. Do not push.", iteration)
}
