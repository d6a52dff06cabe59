// Package vcs wraps the git shell-outs needed by the review phase and
// the runner's loop-mode dirty-tree precondition and revert-on-failure
// behavior (§4.5, §4.6), grounded on the teacher's
// internal/infrastructure/sandbox.ProcessSandbox.Execute shell-out
// style (CommandContext, captured stdout/stderr, structured logging).
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// Repo operates git commands rooted at Dir.
type Repo struct {
	Dir    string
	logger *zap.Logger
}

// New constructs a Repo. A nil logger is replaced with a no-op logger.
func New(dir string, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{Dir: dir, logger: logger}
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		r.logger.Debug("git command failed",
			zap.Strings("args", args),
			zap.String("stderr", stderr.String()),
			zap.Error(err))
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// IsClean reports whether the working tree has no uncommitted or
// untracked changes, per "git status --porcelain" (§3 invariant: "In
// loop mode, at the start of every iteration the working tree is clean
// with respect to the VCS").
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, apperrors.NewTransportFailure("git status failed", err)
	}
	return strings.TrimSpace(out) == "", nil
}

// DefaultBranch detects the repository default branch, trying
// "symbolic-ref refs/remotes/origin/HEAD" first, then probing "main"
// and "master" (§4.5 review).
func (r *Repo) DefaultBranch(ctx context.Context) (string, error) {
	if out, err := r.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:], nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if _, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+candidate); err == nil {
			return candidate, nil
		}
	}
	return "", apperrors.NewValidationError("could not determine repository default branch")
}

// Diff returns "git diff <base>...HEAD".
func (r *Repo) Diff(ctx context.Context, base string) (string, error) {
	out, err := r.run(ctx, "diff", base+"...HEAD")
	if err != nil {
		return "", apperrors.NewTransportFailure("git diff failed", err)
	}
	return out, nil
}

// RevertUncommittedChanges resets tracked files and removes untracked
// files, per §4.6 loop-mode test-failure handling.
func (r *Repo) RevertUncommittedChanges(ctx context.Context) error {
	if _, err := r.run(ctx, "checkout", "--", "."); err != nil {
		return apperrors.NewTransportFailure("git checkout -- . failed", err)
	}
	if _, err := r.run(ctx, "clean", "-fd"); err != nil {
		return apperrors.NewTransportFailure("git clean -fd failed", err)
	}
	return nil
}
