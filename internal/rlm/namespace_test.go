package rlm

import (
	"context"
	"encoding/json"
	"testing"
)

type recordingQuerier struct {
	prompts []string
}

func (q *recordingQuerier) Query(ctx context.Context, prompt, model string) (string, error) {
	q.prompts = append(q.prompts, prompt)
	return "answer:" + prompt, nil
}

func newTestNamespace(t *testing.T, querier Querier) *Namespace {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nimport \"fmt\"\nfunc main(){fmt.Println(\"hi\")}\n")
	writeFile(t, dir, "util.go", "package main\n// helper\n")
	repo, err := LoadRepoContext(dir, []string{"go"})
	if err != nil {
		t.Fatal(err)
	}
	return NewNamespace(repo, querier, nil)
}

func TestNamespace_FilesContainingMatchesRegex(t *testing.T) {
	ns := newTestNamespace(t, &recordingQuerier{})
	raw, err := ns.Handle(context.Background(), "files_containing", mustJSON(t, map[string]string{"pattern": `fmt\.Println`}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var matches []string
	_ = json.Unmarshal(raw, &matches)
	if len(matches) != 1 || matches[0] != "main.go" {
		t.Fatalf("expected [main.go], got %v", matches)
	}
}

func TestNamespace_FileExists(t *testing.T) {
	ns := newTestNamespace(t, &recordingQuerier{})
	raw, err := ns.Handle(context.Background(), "file_exists", mustJSON(t, map[string]string{"path": "main.go"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var exists bool
	_ = json.Unmarshal(raw, &exists)
	if !exists {
		t.Fatal("expected main.go to exist")
	}

	raw, err = ns.Handle(context.Background(), "file_exists", mustJSON(t, map[string]string{"path": "missing.go"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = json.Unmarshal(raw, &exists)
	if exists {
		t.Fatal("expected missing.go to not exist")
	}
}

func TestNamespace_GetFileSliceReturnsOneBasedInclusiveRange(t *testing.T) {
	ns := newTestNamespace(t, &recordingQuerier{})
	raw, err := ns.Handle(context.Background(), "get_file_slice", mustJSON(t, map[string]any{
		"path": "main.go", "start_line": 2, "end_line": 3,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var slice string
	_ = json.Unmarshal(raw, &slice)
	expected := "import \"fmt\"\nfunc main(){fmt.Println(\"hi\")}"
	if slice != expected {
		t.Fatalf("expected %q, got %q", expected, slice)
	}
}

func TestNamespace_LLMQueryDispatchesToQuerier(t *testing.T) {
	q := &recordingQuerier{}
	ns := newTestNamespace(t, q)
	raw, err := ns.Handle(context.Background(), "llm_query", mustJSON(t, map[string]string{"prompt": "hello", "model": "haiku"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var answer string
	_ = json.Unmarshal(raw, &answer)
	if answer != "answer:hello" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(q.prompts) != 1 || q.prompts[0] != "hello" {
		t.Fatalf("expected querier to record prompt, got %v", q.prompts)
	}
}

func TestNamespace_LLMQueryParallelFansOutAllPrompts(t *testing.T) {
	q := &recordingQuerier{}
	ns := newTestNamespace(t, q)
	raw, err := ns.Handle(context.Background(), "llm_query_parallel", mustJSON(t, map[string]any{
		"prompts": []string{"a", "b", "c"}, "model": "haiku",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var answers []string
	_ = json.Unmarshal(raw, &answers)
	if len(answers) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(answers))
	}
}

func TestNamespace_UnknownMethodErrors(t *testing.T) {
	ns := newTestNamespace(t, &recordingQuerier{})
	_, err := ns.Handle(context.Background(), "not_a_real_method", nil)
	if err == nil {
		t.Fatal("expected an error for unknown method")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
