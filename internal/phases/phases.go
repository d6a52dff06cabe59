// Package phases implements the C6 orchestrator phases: review,
// parseFeedback, fix, fixParallel, testAndHeal, commit/commitPushAuto,
// fetchPrFeedback/respondPrFeedback (§4.5). Each phase is a pure
// orchestration step over a backend.Backend and the filesystem.
package phases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/existential-birds/daydream-sub000/internal/backend"
	"github.com/existential-birds/daydream-sub000/internal/driver"
	"github.com/existential-birds/daydream-sub000/internal/event"
	"github.com/existential-birds/daydream-sub000/internal/vcs"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// reviewOutputFile is the fixed filesystem contract between review and
// parseFeedback (§6).
const reviewOutputFile = ".review-output.md"

// frontmatterDelimiter marks the start/end of the YAML metadata block
// Review stamps onto the artifact, mirroring the SKILL.md frontmatter
// convention haasonsaas-nexus's internal/skills parser reads.
const frontmatterDelimiter = "---"

// reviewFrontmatter is the metadata Review prepends to the artifact
// once the agent has written its findings, so parseFeedback (and any
// operator reading the file by hand) knows what produced it.
type reviewFrontmatter struct {
	Skill      string `yaml:"skill"`
	BaseBranch string `yaml:"base_branch"`
}

// stampFrontmatter rewrites path with fm marshaled as a YAML
// frontmatter block ahead of body.
func stampFrontmatter(path string, fm reviewFrontmatter, body []byte) error {
	meta, err := yaml.Marshal(fm)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to marshal review frontmatter", err)
	}
	var out bytes.Buffer
	out.WriteString(frontmatterDelimiter)
	out.WriteByte('\n')
	out.Write(meta)
	out.WriteString(frontmatterDelimiter)
	out.WriteByte('\n')
	out.Write(body)
	return os.WriteFile(path, out.Bytes(), 0o644)
}

// splitFrontmatter separates a leading YAML frontmatter block from the
// markdown body, per the same delimiter convention as
// haasonsaas-nexus's internal/skills.splitFrontmatter. ok is false when
// content has no frontmatter block, in which case content is returned
// unchanged as the body.
func splitFrontmatter(content []byte) (fm reviewFrontmatter, body []byte, ok bool) {
	lines := strings.Split(string(content), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelimiter {
		return reviewFrontmatter{}, content, false
	}

	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelimiter {
			closingIdx = i
			break
		}
	}
	if closingIdx == -1 {
		return reviewFrontmatter{}, content, false
	}

	meta := strings.Join(lines[1:closingIdx], "\n")
	if err := yaml.Unmarshal([]byte(meta), &fm); err != nil {
		return reviewFrontmatter{}, content, false
	}

	return fm, []byte(strings.Join(lines[closingIdx+1:], "\n")), true
}

// ReviewOutputPath returns the review artifact path for cwd, exported
// for the CLI's --cleanup handling (§6 "cleanup: remove review artifact
// on completion").
func ReviewOutputPath(cwd string) string {
	return filepath.Join(cwd, reviewOutputFile)
}

// FeedbackItem is one actionable review finding (§3 PhaseState).
type FeedbackItem struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line"`
}

// State is the per-iteration PhaseState (§3).
type State struct {
	FeedbackItems []FeedbackItem
	FixesApplied  int
	TestRetries   int
	TestsPassed   bool

	// Continuation threads a backend's resumable session across phases
	// that share one (e.g. testAndHeal's fail->fix->retry turns).
	Continuation *event.ContinuationToken
}

// Deps bundles the collaborators every phase needs.
type Deps struct {
	Cwd    string
	Logger *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Review detects the default branch, embeds a diff instruction, invokes
// the review skill, and expects the agent to have written the review
// artifact to <cwd>/.review-output.md (§4.5 review).
func Review(ctx context.Context, d *driver.Driver, deps Deps, skillKey string) error {
	repo := vcs.New(deps.Cwd, deps.logger())
	base, err := repo.DefaultBranch(ctx)
	if err != nil {
		return err
	}
	diff, err := repo.Diff(ctx, base)
	if err != nil {
		return err
	}

	outputPath, err := filepath.Abs(filepath.Join(deps.Cwd, reviewOutputFile))
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to resolve review output path", err)
	}

	invocation := d.Backend.FormatSkillInvocation(skillKey, "")
	prompt := fmt.Sprintf(
		"%s\n\nReview the following diff against %s and write your findings to %s (always write to this absolute path).\n\n%s",
		invocation, base, outputPath, diff,
	)

	if _, err := d.Run(ctx, deps.Cwd, prompt, nil, nil); err != nil {
		return err
	}

	written, err := os.ReadFile(outputPath)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("agent did not write the review artifact: %s", outputPath))
	}
	if _, _, alreadyStamped := splitFrontmatter(written); alreadyStamped {
		return nil
	}
	return stampFrontmatter(outputPath, reviewFrontmatter{Skill: skillKey, BaseBranch: base}, written)
}

// issuesSchema is the JSON schema passed to parseFeedback's turn (§4.5).
var issuesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "integer"},
          "description": {"type": "string"},
          "file": {"type": "string"},
          "line": {"type": "integer"}
        },
        "required": ["id", "description", "file", "line"]
      }
    }
  },
  "required": ["issues"]
}`)

type issuesPayload struct {
	Issues []FeedbackItem `json:"issues"`
}

// ParseFeedback loads the review artifact and asks the backend to
// extract structured issues from it. Empty/whitespace content is
// treated as zero issues; anything else that fails to parse as the
// issues schema is a ParseFailure (§4.5, §7, §8).
func ParseFeedback(ctx context.Context, d *driver.Driver, deps Deps) ([]FeedbackItem, error) {
	path := filepath.Join(deps.Cwd, reviewOutputFile)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("review output file missing: %s", path))
	}

	fm, body, hasFrontmatter := splitFrontmatter(content)
	if hasFrontmatter {
		deps.logger().Debug("parsing review artifact",
			zap.String("skill", fm.Skill), zap.String("base_branch", fm.BaseBranch))
		content = body
	}

	if isBlank(content) {
		return nil, nil
	}

	prompt := fmt.Sprintf("Extract actionable issues from the following review markdown as JSON matching the schema.\n\n%s", content)
	out, err := d.Run(ctx, deps.Cwd, prompt, issuesSchema, nil)
	if err != nil {
		return nil, err
	}

	if len(out.StructuredOutput) == 0 {
		if isBlank([]byte(out.FinalOutput)) {
			return nil, nil
		}
		var payload issuesPayload
		if err := json.Unmarshal([]byte(out.FinalOutput), &payload); err != nil {
			return nil, apperrors.NewParseFailure("could not parse review feedback as JSON", err)
		}
		return payload.Issues, nil
	}

	var payload issuesPayload
	if err := json.Unmarshal(out.StructuredOutput, &payload); err != nil {
		return nil, apperrors.NewParseFailure("structured output did not match the issues schema", err)
	}
	return payload.Issues, nil
}

func isBlank(b []byte) bool {
	for _, r := range string(b) {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

// Fix drives one agent turn per feedback item, embedding its
// description/file/line and an instruction to make the minimal change
// (§4.5 fix).
func Fix(ctx context.Context, d *driver.Driver, deps Deps, item FeedbackItem) error {
	prompt := fmt.Sprintf(
		"Apply the minimal change to resolve this review finding.\n\nFile: %s\nLine: %d\nIssue: %s\n\nMake only the change needed to resolve this issue.",
		item.File, item.Line, item.Description,
	)
	_, err := d.Run(ctx, deps.Cwd, prompt, nil, nil)
	return err
}
