package rlm

import (
	"context"
	"testing"
)

type scriptedQuerier struct {
	responses []string
	i         int
}

func (q *scriptedQuerier) Query(ctx context.Context, prompt, model string) (string, error) {
	if q.i >= len(q.responses) {
		return "", errBoom
	}
	r := q.responses[q.i]
	q.i++
	return r, nil
}

type scriptedExecutor struct {
	results []ExecuteResult
	i       int
	codes   []string
}

func (e *scriptedExecutor) Execute(ctx context.Context, code string) (ExecuteResult, error) {
	e.codes = append(e.codes, code)
	if e.i >= len(e.results) {
		return ExecuteResult{}, errBoom
	}
	r := e.results[e.i]
	e.i++
	return r, nil
}

func TestRun_ReturnsFinalAnswerOnFirstIteration(t *testing.T) {
	root := &scriptedQuerier{responses: []string{"```python\nFINAL(file_exists('main.go'))\n```"}}
	exec := &scriptedExecutor{results: []ExecuteResult{{Status: "final", Final: "true"}}}

	report, err := Run(context.Background(), Config{
		Root: root, RootModel: "opus", Sandbox: exec,
		Repo: &RepoContext{Root: "/repo"},
	}, "does main.go exist?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Answer != "true" {
		t.Fatalf("expected answer 'true', got %q", report.Answer)
	}
	if report.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", report.Iterations)
	}
}

func TestRun_ContinuesAcrossNonFinalIterations(t *testing.T) {
	root := &scriptedQuerier{responses: []string{
		"```python\nprint(list_files_matching('*.go'))\n```",
		"```python\nFINAL('done')\n```",
	}}
	exec := &scriptedExecutor{results: []ExecuteResult{
		{Status: "ok", Stdout: "['main.go']\n"},
		{Status: "final", Final: "done"},
	}}

	report, err := Run(context.Background(), Config{
		Root: root, RootModel: "opus", Sandbox: exec,
		Repo: &RepoContext{Root: "/repo"},
	}, "find go files")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", report.Iterations)
	}
	if len(exec.codes) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(exec.codes))
	}
}

func TestRun_ExhaustsBudgetReturnsIncompleteReport(t *testing.T) {
	root := &scriptedQuerier{responses: []string{
		"```python\nprint('still working')\n```",
		"```python\nprint('still working')\n```",
	}}
	exec := &scriptedExecutor{results: []ExecuteResult{
		{Status: "ok", Stdout: "still working\n"},
		{Status: "ok", Stdout: "still working\n"},
	}}

	_, err := Run(context.Background(), Config{
		Root: root, RootModel: "opus", Sandbox: exec,
		Repo: &RepoContext{Root: "/repo"}, MaxIterations: 2,
	}, "never finishes")
	if err == nil {
		t.Fatal("expected an IncompleteReport error")
	}
	incomplete, ok := err.(*IncompleteReport)
	if !ok {
		t.Fatalf("expected *IncompleteReport, got %T", err)
	}
	if incomplete.Iterations != 2 {
		t.Fatalf("expected 2 iterations recorded, got %d", incomplete.Iterations)
	}
}

func TestRun_RepromptsWhenResponseHasNoCodeOrFinal(t *testing.T) {
	root := &scriptedQuerier{responses: []string{
		"   \n",
		"```python\nFINAL('ok')\n```",
	}}
	exec := &scriptedExecutor{results: []ExecuteResult{{Status: "final", Final: "ok"}}}

	report, err := Run(context.Background(), Config{
		Root: root, RootModel: "opus", Sandbox: exec,
		Repo: &RepoContext{Root: "/repo"},
	}, "task")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Answer != "ok" {
		t.Fatalf("expected answer 'ok', got %q", report.Answer)
	}
	if root.i != 2 {
		t.Fatalf("expected a re-prompt (2 root queries), got %d", root.i)
	}
	if len(exec.codes) != 1 || exec.codes[0] != "FINAL('ok')" {
		t.Fatalf("expected only the re-prompted code to execute, got %q", exec.codes)
	}
}

func TestExtractCode_FallsBackToStrippedResponseWithoutFence(t *testing.T) {
	got := extractCode("  print('hi')  ")
	if got != "print('hi')" {
		t.Fatalf("expected trimmed response, got %q", got)
	}
}

func TestExtractCode_PrefersFencedBlock(t *testing.T) {
	got := extractCode("some prose\n```python\nx = 1\n```\nmore prose")
	if got != "x = 1" {
		t.Fatalf("expected fenced block contents, got %q", got)
	}
}
