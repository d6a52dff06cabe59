package rlm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

const defaultMaxIterations = 50

// codeFence matches the first ```python fenced block in a model
// response (§4.7 "extract first fenced python block").
var codeFence = regexp.MustCompile("(?s)```python\\s*\\n(.*?)```")

// Report is Run's successful outcome.
type Report struct {
	Answer     string
	Iterations int
}

// Executor runs one block of code in a persistent sandbox namespace.
// Satisfied by *Sandbox; a narrow interface so Run can be exercised
// against a fake in tests without spawning a real python3 process.
type Executor interface {
	Execute(ctx context.Context, code string) (ExecuteResult, error)
}

// Config wires one REPL session: a root model that emits code each
// iteration, the sandbox that runs it, and the repository it reasons
// over (§4.7).
type Config struct {
	Root             Querier
	RootModel        string
	Repo             *RepoContext
	Sandbox          Executor
	MaxIterations    int
	RecentCount      int
	MaxHistoryTokens int
	Logger           *zap.Logger
}

func (c Config) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return defaultMaxIterations
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Run drives the root-LM/sandbox loop for task until a FINAL sentinel
// is raised or the iteration budget is exhausted (§4.7).
func Run(ctx context.Context, cfg Config, task string) (Report, error) {
	history := NewHistory(cfg.RecentCount, cfg.MaxHistoryTokens)
	prompt := buildSystemPrompt(cfg.Repo) + "\n\nTask:\n" + task

	for i := 1; i <= cfg.maxIterations(); i++ {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}

		code, err := cfg.nextCode(ctx, prompt)
		if err != nil {
			return Report{}, err
		}

		result, err := cfg.Sandbox.Execute(ctx, code)
		if err != nil {
			return Report{}, apperrors.NewTransportFailure("rlm sandbox execute failed", err)
		}

		if result.Status == "final" {
			return Report{Answer: result.Final, Iterations: i}, nil
		}

		history.Append(Exchange{Prompt: prompt, Code: code, Output: renderOutput(result)})
		prompt = buildContinuationPrompt(history, result)
		cfg.logger().Debug("rlm iteration completed without a final answer",
			zap.Int("iteration", i), zap.String("status", result.Status))
	}

	return Report{}, &IncompleteReport{Iterations: cfg.maxIterations(), LastOutput: prompt}
}

// nextCode queries the root model and extracts its code, re-prompting
// once if the extracted code is empty and the response has no FINAL(
// call (§4.7 "if empty and no FINAL( present, re-request a fenced
// block").
func (c Config) nextCode(ctx context.Context, prompt string) (string, error) {
	response, err := c.Root.Query(ctx, prompt, c.RootModel)
	if err != nil {
		return "", apperrors.NewBackendTurnFailure("rlm root model query failed", err)
	}

	code := extractCode(response)
	if code != "" || strings.Contains(response, "FINAL(") {
		return code, nil
	}

	retryPrompt := prompt + "\n\nYour previous response contained no code. Respond with a single ```python fenced code block."
	response, err = c.Root.Query(ctx, retryPrompt, c.RootModel)
	if err != nil {
		return "", apperrors.NewBackendTurnFailure("rlm root model retry query failed", err)
	}
	return extractCode(response), nil
}

// extractCode pulls the first fenced ```python block out of response,
// falling back to the stripped response body when no fence is present.
func extractCode(response string) string {
	if m := codeFence.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

func renderOutput(result ExecuteResult) string {
	var b strings.Builder
	if result.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", result.Stderr)
	}
	if result.Status == "error" {
		fmt.Fprintf(&b, "error: %s\n", result.Err)
	}
	return b.String()
}

func buildContinuationPrompt(history *History, result ExecuteResult) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	b.WriteString(history.Render())
	b.WriteString("\nLatest execution result:\n")
	b.WriteString(renderOutput(result))
	b.WriteString("\nContinue. Call FINAL(answer) or FINAL_VAR(name) once you have the final answer.")
	return b.String()
}

func buildSystemPrompt(repo *RepoContext) string {
	if repo == nil {
		return "You are reasoning over a repository. No repository context is available."
	}

	var b strings.Builder
	b.WriteString("You are reasoning over a repository by writing Python code that runs in a sandboxed namespace.\n")
	b.WriteString("Available: files_containing(regex), files_importing(module), file_exists(path), ")
	b.WriteString("list_files_matching(glob), get_file_slice(path, start_line, end_line), ")
	b.WriteString("llm_query(prompt, model), llm_query_parallel(prompts, model), FINAL(answer), FINAL_VAR(name).\n\n")

	fmt.Fprintf(&b, "Repository root: %s\n", repo.Root)
	if len(repo.ChangedFiles) > 0 {
		b.WriteString("Changed files in this pull request:\n")
		for _, f := range repo.ChangedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	b.WriteString("Preview of first 20 files:\n")
	for _, f := range repo.Preview(20) {
		fmt.Fprintf(&b, "- %s (%d bytes)\n", f.Path, f.Size)
	}

	b.WriteString("Largest files:\n")
	for _, f := range repo.TopLargest(5) {
		fmt.Fprintf(&b, "- %s (%d bytes)\n", f.Path, f.Size)
	}

	b.WriteString("\nRespond with a single ```python fenced code block per turn.\n")
	return b.String()
}
