package subprocess

import (
	"encoding/json"
	"strings"
)

// extractStructuredOutput implements the fallback chain of §4.3
// "Structured output extraction": parse lastAgentText as JSON, else
// inspect the turn.completed event's result/output field. Returns nil
// (not an error) when every attempt fails — a schema-not-satisfied
// Result is reported with structuredOutput=null, per §4.1.
func extractStructuredOutput(lastAgentText string, turnEvent wireEvent) json.RawMessage {
	if trimmed := strings.TrimSpace(lastAgentText); trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	if raw := extractFromField(turnEvent.Result); raw != nil {
		return raw
	}
	if raw := extractFromField(turnEvent.Output); raw != nil {
		return raw
	}
	return nil
}

func extractFromField(field json.RawMessage) json.RawMessage {
	if len(field) == 0 || string(field) == "null" {
		return nil
	}
	if looksLikeJSONValue(field) {
		return field
	}
	var s string
	if err := json.Unmarshal(field, &s); err == nil {
		if trimmed := strings.TrimSpace(s); trimmed != "" && json.Valid([]byte(trimmed)) {
			return json.RawMessage(trimmed)
		}
	}
	return nil
}

func looksLikeJSONValue(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[':
		return true
	default:
		return false
	}
}
