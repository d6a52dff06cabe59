// Package event defines the uniform AgentEvent stream emitted by every
// backend (SDK or subprocess) and consumed by the agent driver and phases.
package event

import "encoding/json"

// Kind discriminates which fields of an AgentEvent are populated.
type Kind string

const (
	KindText     Kind = "text"
	KindThinking Kind = "thinking"
	KindToolStart Kind = "tool_start"
	KindToolResult Kind = "tool_result"
	KindCost     Kind = "cost"
	KindResult   Kind = "result"
)

// AgentEvent is a tagged variant describing one step of an agent turn.
// Exactly one Kind applies per value; the fields relevant to other kinds
// are left zero. This mirrors the teacher's struct-with-kind-tag shape
// (domain/entity.AgentEvent) generalized to the six variants of the spec.
type AgentEvent struct {
	Kind Kind `json:"kind"`

	// KindText / KindThinking
	Text string `json:"text,omitempty"`

	// KindToolStart
	ToolID    string         `json:"tool_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// KindToolResult (ToolID must match an earlier KindToolStart in the same turn)
	ToolOutput string `json:"tool_output,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	// KindCost — any field may be nil when the backend doesn't supply it
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	InputTokens  *int     `json:"input_tokens,omitempty"`
	OutputTokens *int     `json:"output_tokens,omitempty"`

	// KindResult — terminal event, exactly one per turn on success
	StructuredOutput json.RawMessage  `json:"structured_output,omitempty"`
	Continuation     *ContinuationToken `json:"continuation,omitempty"`
}

// Text constructs a KindText event.
func Text(text string) AgentEvent { return AgentEvent{Kind: KindText, Text: text} }

// Thinking constructs a KindThinking event.
func Thinking(text string) AgentEvent { return AgentEvent{Kind: KindThinking, Text: text} }

// ToolStart constructs a KindToolStart event.
func ToolStart(id, name string, input map[string]any) AgentEvent {
	return AgentEvent{Kind: KindToolStart, ToolID: id, ToolName: name, ToolInput: input}
}

// ToolResult constructs a KindToolResult event.
func ToolResult(id, output string, isError bool) AgentEvent {
	return AgentEvent{Kind: KindToolResult, ToolID: id, ToolOutput: output, IsError: isError}
}

// Cost constructs a KindCost event.
func Cost(costUSD *float64, inputTokens, outputTokens *int) AgentEvent {
	return AgentEvent{Kind: KindCost, CostUSD: costUSD, InputTokens: inputTokens, OutputTokens: outputTokens}
}

// Result constructs the terminal KindResult event.
func Result(structuredOutput json.RawMessage, continuation *ContinuationToken) AgentEvent {
	return AgentEvent{Kind: KindResult, StructuredOutput: structuredOutput, Continuation: continuation}
}

// ContinuationToken is opaque to callers: only the originating backend may
// consume it. Passing a token to a foreign backend must be ignored.
type ContinuationToken struct {
	Backend string          `json:"backend"`
	Data    json.RawMessage `json:"data"`
}

// ForBackend reports whether this token may be consumed by the named backend.
func (t *ContinuationToken) ForBackend(name string) bool {
	return t != nil && t.Backend == name
}
