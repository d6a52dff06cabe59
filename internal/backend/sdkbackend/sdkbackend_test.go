package sdkbackend

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestName_IsClaude(t *testing.T) {
	b := New(Config{APIKey: "test-key"})
	if b.Name() != "claude" {
		t.Fatalf("expected backend name 'claude', got %q", b.Name())
	}
}

func TestFormatSkillInvocation_SlashStyle(t *testing.T) {
	b := New(Config{APIKey: "test-key"})
	got := b.FormatSkillInvocation("python", "arg1 arg2")
	want := "/python arg1 arg2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestModelOrDefault_UsesConfiguredModel(t *testing.T) {
	b := New(Config{APIKey: "test-key", Model: "claude-custom"})
	if b.modelOrDefault() != "claude-custom" {
		t.Fatalf("expected configured model to win, got %q", b.modelOrDefault())
	}
}

func TestModelOrDefault_FallsBackWhenUnset(t *testing.T) {
	b := New(Config{APIKey: "test-key"})
	if b.modelOrDefault() == "" {
		t.Fatal("expected a non-empty default model")
	}
}

func TestInputMap_ParsesObject(t *testing.T) {
	got := inputMap(json.RawMessage(`{"command":"ls -la","cwd":"/tmp"}`))
	if got["command"] != "ls -la" || got["cwd"] != "/tmp" {
		t.Fatalf("unexpected map: %#v", got)
	}
}

func TestInputMap_MalformedYieldsNilMap(t *testing.T) {
	got := inputMap(json.RawMessage(`not json`))
	if got != nil {
		t.Fatalf("expected nil map for malformed input, got %#v", got)
	}
}

func TestStructuredOutputToolParam_UsesReservedName(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"issues":{"type":"array"}}}`)
	tp := structuredOutputToolParam(schema)
	if tp.OfTool == nil {
		t.Fatal("expected an OfTool param")
	}
	if tp.OfTool.Name != structuredOutputTool {
		t.Fatalf("expected tool name %q, got %q", structuredOutputTool, tp.OfTool.Name)
	}
}

func TestStreamResult_AssistantContentBlocks_OrdersTextThenTools(t *testing.T) {
	r := &streamResult{
		textBlocks: []string{"hello"},
		toolUses: []toolUseResult{
			{id: "tool_1", name: "run_shell", input: json.RawMessage(`{"command":"ls"}`)},
		},
	}
	blocks := r.assistantContentBlocks()
	if len(blocks) != 2 {
		t.Fatalf("expected 2 content blocks (text, then tool_use), got %d", len(blocks))
	}
}

func TestEstimateCostUSD_NilWithoutPublishedRate(t *testing.T) {
	if got := estimateCostUSD("claude-sonnet", anthropic.Usage{InputTokens: 100, OutputTokens: 50}); got != nil {
		t.Fatalf("expected nil cost estimate, got %v", *got)
	}
}
