package subprocess

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/existential-birds/daydream-sub000/internal/event"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// wireEvent is one parsed line of the subprocess's JSONL stream (§4.3).
type wireEvent struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id,omitempty"`
	Item     *wireItem       `json:"item,omitempty"`
	Usage    *wireUsage      `json:"usage,omitempty"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wireItem is the payload of item.started/item.updated/item.completed,
// fields vary by Type (command_execution, mcp_tool_call, agent_message,
// reasoning, file_change).
type wireItem struct {
	ID        string             `json:"id,omitempty"`
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Content   []wireContentBlock `json:"content,omitempty"`
	Delta     string             `json:"delta,omitempty"`
	Command   string             `json:"command,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Arguments map[string]any     `json:"arguments,omitempty"`
	Output    string             `json:"output,omitempty"`
	ExitCode  *int               `json:"exit_code,omitempty"`
	Status    string             `json:"status,omitempty"`
	Result    json.RawMessage    `json:"result,omitempty"`
	Error     json.RawMessage    `json:"error,omitempty"`
	FilePath  string             `json:"file_path,omitempty"`
	Action    string             `json:"action,omitempty"`
}

// outcome signals what, if anything, handle observed about the turn as
// a whole (as opposed to the per-item events it already emitted).
type outcome struct {
	done    bool
	failErr error
}

// mapper holds the per-turn reconciliation state: the id-synthesis
// pending table and the item.updated delta accumulator (§4.3 "Id
// reconciliation for missing ids", "Text extraction policy").
type mapper struct {
	logger   *zap.Logger
	pending  map[string]string
	deltas   map[string]*strings.Builder
	threadID string

	lastAgentText string
}

func newMapper(logger *zap.Logger) *mapper {
	return &mapper{
		logger:  logger,
		pending: make(map[string]string),
		deltas:  make(map[string]*strings.Builder),
	}
}

func pendingKey(itemType, disambiguator string) string {
	return itemType + ":" + disambiguator
}

func (m *mapper) handle(we wireEvent, emit func(event.AgentEvent)) outcome {
	switch we.Type {
	case "thread.started":
		m.threadID = we.ThreadID
	case "turn.started":
		// ignored
	case "item.started":
		m.handleItemStarted(we.Item, emit)
	case "item.updated":
		m.handleItemUpdated(we.Item)
	case "item.completed":
		m.handleItemCompleted(we.Item, emit)
	case "turn.completed":
		return outcome{done: true}
	case "turn.failed":
		return outcome{failErr: apperrors.NewBackendTurnFailure(we.Message, nil)}
	default:
		m.logger.Debug("unrecognized subprocess event type, skipping", zap.String("type", we.Type))
	}
	return outcome{}
}

func (m *mapper) handleItemStarted(item *wireItem, emit func(event.AgentEvent)) {
	if item == nil {
		return
	}
	switch item.Type {
	case "command_execution":
		id := item.ID
		if id == "" {
			id = uuid.NewString()
			m.pending[pendingKey("command_execution", item.Command)] = id
		}
		emit(event.ToolStart(id, "shell", map[string]any{"command": unwrapShellCommand(item.Command)}))
	case "mcp_tool_call":
		id := item.ID
		if id == "" {
			id = uuid.NewString()
			m.pending[pendingKey("mcp_tool_call", item.Tool)] = id
		}
		emit(event.ToolStart(id, item.Tool, item.Arguments))
	case "agent_message", "reasoning":
		// text arrives via item.updated/item.completed
	default:
		m.logger.Debug("unrecognized item.started type", zap.String("type", item.Type))
	}
}

func (m *mapper) handleItemUpdated(item *wireItem) {
	if item == nil || item.ID == "" {
		return
	}
	if item.Type != "agent_message" && item.Type != "reasoning" {
		return
	}
	b, ok := m.deltas[item.ID]
	if !ok {
		b = &strings.Builder{}
		m.deltas[item.ID] = b
	}
	b.WriteString(item.Delta)
}

func (m *mapper) handleItemCompleted(item *wireItem, emit func(event.AgentEvent)) {
	if item == nil {
		return
	}
	switch item.Type {
	case "agent_message":
		text := m.extractText(item)
		m.lastAgentText = text
		emit(event.Text(text))

	case "reasoning":
		emit(event.Thinking(m.extractText(item)))

	case "command_execution":
		id := item.ID
		if id == "" {
			key := pendingKey("command_execution", item.Command)
			id = m.pending[key]
			delete(m.pending, key)
		}
		isError := item.Status == "declined"
		output := item.Output
		if item.Status == "declined" {
			output = "command declined"
		} else if item.ExitCode != nil && *item.ExitCode != 0 {
			isError = true
		}
		emit(event.ToolResult(id, output, isError))

	case "file_change":
		id := uuid.NewString()
		emit(event.ToolStart(id, "patch", map[string]any{"file": item.FilePath, "action": item.Action}))
		emit(event.ToolResult(id, item.Action+": "+item.FilePath, false))

	case "mcp_tool_call":
		id := item.ID
		if id == "" {
			key := pendingKey("mcp_tool_call", item.Tool)
			id = m.pending[key]
			delete(m.pending, key)
		}
		output, isError := extractMCPResult(item)
		emit(event.ToolResult(id, output, isError))

	default:
		m.logger.Debug("unrecognized item.completed type", zap.String("type", item.Type))
	}
}

// extractText implements the three-tier fallback of §4.3 "Text
// extraction policy": top-level text, else content blocks, else
// accumulated item.updated deltas.
func (m *mapper) extractText(item *wireItem) string {
	if item.Text != "" {
		return item.Text
	}
	if len(item.Content) > 0 {
		var sb strings.Builder
		for _, block := range item.Content {
			if block.Type == "text" || block.Type == "output_text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	if b, ok := m.deltas[item.ID]; ok {
		return b.String()
	}
	return ""
}

func extractMCPResult(item *wireItem) (string, bool) {
	isError := len(item.Error) > 0 && string(item.Error) != "null"
	if len(item.Result) == 0 {
		return "", isError
	}
	var wrapper struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(item.Result, &wrapper); err == nil && wrapper.Content != nil {
		return rawToString(wrapper.Content), isError
	}
	return rawToString(item.Result), isError
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
