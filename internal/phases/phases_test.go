package phases

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/existential-birds/daydream-sub000/internal/driver"
	"github.com/existential-birds/daydream-sub000/internal/event"
)

type scriptedBackend struct {
	turns         []scriptedTurn
	i             int
	continuations []*event.ContinuationToken
}

type scriptedTurn struct {
	events []event.AgentEvent
	err    error
}

func (b *scriptedBackend) Execute(ctx context.Context, cwd, prompt string, schema json.RawMessage, continuation *event.ContinuationToken) (<-chan event.AgentEvent, <-chan error) {
	b.continuations = append(b.continuations, continuation)
	turn := b.turns[b.i]
	b.i++
	events := make(chan event.AgentEvent, len(turn.events))
	errc := make(chan error, 1)
	for _, e := range turn.events {
		events <- e
	}
	close(events)
	if turn.err != nil {
		errc <- turn.err
	}
	close(errc)
	return events, errc
}

func (b *scriptedBackend) Cancel()      {}
func (b *scriptedBackend) Name() string { return "scripted" }
func (b *scriptedBackend) FormatSkillInvocation(skillKey, args string) string {
	return "/review:" + skillKey
}

func TestParseFeedback_EmptyReviewFileYieldsZeroIssues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, reviewOutputFile), []byte("   \n\t "), 0o644); err != nil {
		t.Fatal(err)
	}
	d := driver.New(&scriptedBackend{}, nil)
	items, err := ParseFeedback(context.Background(), d, Deps{Cwd: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil/zero issues, got %v", items)
	}
}

func TestParseFeedback_StructuredOutputParsed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, reviewOutputFile), []byte("# issues found"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := &scriptedBackend{turns: []scriptedTurn{
		{events: []event.AgentEvent{
			event.Result(json.RawMessage(`{"issues":[{"id":1,"description":"d","file":"f.go","line":3}]}`), nil),
		}},
	}}
	d := driver.New(b, nil)
	items, err := ParseFeedback(context.Background(), d, Deps{Cwd: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].File != "f.go" {
		t.Fatalf("unexpected items: %#v", items)
	}
}

func TestSplitFrontmatter_RoundTripsThroughStamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, reviewOutputFile)
	if err := stampFrontmatter(path, reviewFrontmatter{Skill: "python", BaseBranch: "main"}, []byte("# findings\n- none")); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fm, body, ok := splitFrontmatter(content)
	if !ok {
		t.Fatal("expected frontmatter to be detected")
	}
	if fm.Skill != "python" || fm.BaseBranch != "main" {
		t.Fatalf("unexpected frontmatter: %#v", fm)
	}
	if string(body) != "# findings\n- none" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSplitFrontmatter_NoDelimiterReturnsContentUnchanged(t *testing.T) {
	_, body, ok := splitFrontmatter([]byte("# plain markdown, no frontmatter"))
	if ok {
		t.Fatal("expected no frontmatter detected")
	}
	if string(body) != "# plain markdown, no frontmatter" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestParseFeedback_StripsFrontmatterBeforeBlankCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, reviewOutputFile)
	if err := stampFrontmatter(path, reviewFrontmatter{Skill: "python", BaseBranch: "main"}, []byte("   \n\t ")); err != nil {
		t.Fatal(err)
	}

	d := driver.New(&scriptedBackend{}, nil)
	items, err := ParseFeedback(context.Background(), d, Deps{Cwd: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil/zero issues, got %v", items)
	}
}

func TestParseFeedback_FallsBackToTextJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, reviewOutputFile), []byte("# issues found"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := &scriptedBackend{turns: []scriptedTurn{
		{events: []event.AgentEvent{
			event.Text(`{"issues":[{"id":2,"description":"d2","file":"g.go","line":9}]}`),
			event.Result(nil, nil),
		}},
	}}
	d := driver.New(b, nil)
	items, err := ParseFeedback(context.Background(), d, Deps{Cwd: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != 2 {
		t.Fatalf("unexpected items: %#v", items)
	}
}

func TestFixParallel_CapturesPerItemFailuresWithoutAborting(t *testing.T) {
	items := []FeedbackItem{{ID: 1}, {ID: 2}, {ID: 3}}
	results := FixParallel(context.Background(), func(item FeedbackItem) *driver.Driver {
		if item.ID == 2 {
			return driver.New(&scriptedBackend{turns: []scriptedTurn{{err: errBoom}}}, nil)
		}
		return driver.New(&scriptedBackend{turns: []scriptedTurn{{events: []event.AgentEvent{event.Result(nil, nil)}}}}, nil)
	}, Deps{Cwd: t.TempDir()}, items)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	okCount, failCount := 0, 0
	for _, r := range results {
		if r.OK {
			okCount++
		} else {
			failCount++
		}
	}
	if okCount != 2 || failCount != 1 {
		t.Fatalf("expected 2 ok / 1 failed, got ok=%d fail=%d", okCount, failCount)
	}
	if AllFailed(results) {
		t.Fatal("AllFailed should be false when some items succeeded")
	}
}

func TestTestAndHeal_ThreadsContinuationAcrossRetries(t *testing.T) {
	b := &scriptedBackend{turns: []scriptedTurn{
		{events: []event.AgentEvent{event.Text("tests FAILED"), event.Result(nil, &event.ContinuationToken{Backend: "scripted", Data: json.RawMessage(`{"n":1}`)})}},
		{events: []event.AgentEvent{event.Text("applied fix, tests still FAILED"), event.Result(nil, &event.ContinuationToken{Backend: "scripted", Data: json.RawMessage(`{"n":2}`)})}},
		{events: []event.AgentEvent{event.Text("all tests passed"), event.Result(nil, nil)}},
	}}
	d := driver.New(b, nil)
	success, retries, err := TestAndHeal(context.Background(), d, Deps{Cwd: t.TempDir()}, "go test ./...", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !success || retries < 1 {
		t.Fatalf("expected success with retries>=1, got success=%v retries=%d", success, retries)
	}
	if len(b.continuations) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(b.continuations))
	}
	if b.continuations[0] != nil {
		t.Fatalf("expected the first turn to start without a continuation, got %#v", b.continuations[0])
	}
	for i, want := range []string{`{"n":1}`, `{"n":2}`} {
		got := b.continuations[i+1]
		if got == nil || string(got.Data) != want {
			t.Fatalf("turn %d: expected continuation %s, got %#v", i+2, want, got)
		}
	}
}

var errBoom = &simpleErr{"boom"}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }
