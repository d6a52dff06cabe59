// Package sdkbackend implements the C3 backend: an in-process streaming
// client (anthropic-sdk-go) adapted to the uniform event.AgentEvent
// stream, per spec §4.2.
//
// Unlike the subprocess backend, tool execution here is driven locally:
// when the model emits a tool_use block that isn't the reserved
// StructuredOutput marker, the configured ToolExecutor runs it and the
// result is fed back as the next user turn, looping until the model
// stops requesting tools or maxToolTurns is reached. This backend never
// produces a continuation token (§4.2: "does not participate in
// continuation").
package sdkbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/existential-birds/daydream-sub000/internal/backend"
	"github.com/existential-birds/daydream-sub000/internal/event"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// structuredOutputTool is the reserved tool name whose invocations are
// consumed as structured output rather than surfaced as ToolStart (§4.2).
const structuredOutputTool = "StructuredOutput"

// maxToolTurns bounds the local agentic loop so a misbehaving model
// cannot keep the backend requesting tools forever.
const maxToolTurns = 25

// ToolExecutor runs a tool call requested by the model and returns its
// textual output. Implementations should never panic; return an error
// result with isError=true instead.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, input json.RawMessage) (output string, isError bool)
}

// Config configures a Backend.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	System       string
	Tools        []anthropic.ToolUnionParam
	ToolExecutor ToolExecutor
	Logger       *zap.Logger
}

// Backend adapts anthropic-sdk-go to the backend.Backend contract.
type Backend struct {
	client anthropic.Client
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a Backend from cfg.
func New(cfg Config) *Backend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &Backend{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Name identifies this backend for continuation-token scoping.
func (b *Backend) Name() string { return "claude" }

// FormatSkillInvocation formats a skill as the Claude-style slash
// literal (§4.1).
func (b *Backend) FormatSkillInvocation(skillKey, args string) string {
	return backend.SlashStyle("", skillKey, args)
}

// Cancel terminates the in-flight Execute, if any.
func (b *Backend) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelFn != nil {
		b.cancelFn()
	}
}

// Execute runs one turn against the SDK, returning a lazy event stream.
// continuation is ignored: this backend does not participate in
// continuation (§4.2).
func (b *Backend) Execute(ctx context.Context, cwd, prompt string, outputSchema json.RawMessage, continuation *event.ContinuationToken) (<-chan event.AgentEvent, <-chan error) {
	execCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancelFn = cancel
	b.mu.Unlock()

	events := make(chan event.AgentEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer cancel()
		err := b.run(execCtx, prompt, outputSchema, events)
		if err != nil {
			errc <- err
		}
		close(errc)
	}()

	return events, errc
}

func (b *Backend) run(ctx context.Context, prompt string, outputSchema json.RawMessage, events chan<- event.AgentEvent) error {
	messages := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))}

	tools := append([]anthropic.ToolUnionParam(nil), b.cfg.Tools...)
	if len(outputSchema) > 0 {
		tools = append(tools, structuredOutputToolParam(outputSchema))
	}

	var lastUsage anthropic.Usage
	var structuredOutput json.RawMessage

	for turn := 0; turn < maxToolTurns; turn++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(b.modelOrDefault()),
			Messages:  messages,
			MaxTokens: b.cfg.MaxTokens,
		}
		if b.cfg.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: b.cfg.System}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		stream := b.client.Messages.NewStreaming(ctx, params)
		result, err := b.processStream(stream, events)
		if err != nil {
			return apperrors.NewTransportFailure("anthropic stream failed", err)
		}
		if result.usage.OutputTokens > 0 {
			lastUsage = result.usage
		}
		if result.structuredOutput != nil {
			structuredOutput = result.structuredOutput
		}

		assistantContent := result.assistantContentBlocks()
		messages = append(messages, anthropic.NewAssistantMessage(assistantContent...))

		if len(result.toolUses) == 0 {
			break
		}
		if b.cfg.ToolExecutor == nil {
			b.logger.Warn("model requested tool execution but no executor is configured",
				zap.Int("tool_count", len(result.toolUses)))
			break
		}

		var resultBlocks []anthropic.ContentBlockParamUnion
		for _, tu := range result.toolUses {
			output, isErr := b.cfg.ToolExecutor.ExecuteTool(ctx, tu.name, tu.input)
			events <- event.ToolResult(tu.id, output, isErr)
			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(tu.id, output, isErr))
		}
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}

	costUSD := estimateCostUSD(b.modelOrDefault(), lastUsage)
	var inputTokens, outputTokens *int
	if lastUsage.InputTokens > 0 {
		v := int(lastUsage.InputTokens)
		inputTokens = &v
	}
	if lastUsage.OutputTokens > 0 {
		v := int(lastUsage.OutputTokens)
		outputTokens = &v
	}
	events <- event.Cost(costUSD, inputTokens, outputTokens)
	events <- event.Result(structuredOutput, nil)
	return nil
}

func (b *Backend) modelOrDefault() string {
	if b.cfg.Model != "" {
		return b.cfg.Model
	}
	return string(anthropic.ModelClaudeSonnet4_20250514)
}

func structuredOutputToolParam(schema json.RawMessage) anthropic.ToolUnionParam {
	var inputSchema anthropic.ToolInputSchemaParam
	_ = json.Unmarshal(schema, &inputSchema)
	tp := anthropic.ToolUnionParamOfTool(inputSchema, structuredOutputTool)
	tp.OfTool.Description = anthropic.String("Emit the final structured result for this turn.")
	return tp
}

// pendingToolUse is a tool-use block accumulated across content_block
// events within one streamed message.
type pendingToolUse struct {
	id        string
	name      string
	input     json.RawMessage
	inputJSON strings.Builder
}

type streamResult struct {
	toolUses         []toolUseResult
	structuredOutput json.RawMessage
	usage            anthropic.Usage
	textBlocks       []string
}

type toolUseResult struct {
	id    string
	name  string
	input json.RawMessage
}

func (r *streamResult) assistantContentBlocks() []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, t := range r.textBlocks {
		blocks = append(blocks, anthropic.NewTextBlock(t))
	}
	for _, tu := range r.toolUses {
		var input map[string]any
		_ = json.Unmarshal(tu.input, &input)
		blocks = append(blocks, anthropic.NewToolUseBlock(tu.id, input, tu.name))
	}
	return blocks
}

// processStream walks one streamed message's events, emitting
// event.AgentEvent values for text/thinking/tool_use content the way
// haasonsaas-nexus's AnthropicProvider.processStream walks
// content_block_start/delta/stop and message_start/delta/stop (adapted
// to the spec's event kinds instead of provider-local CompletionChunk).
func (b *Backend) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- event.AgentEvent) (*streamResult, error) {
	result := &streamResult{}
	var current *pendingToolUse
	var currentIsThinking bool
	var currentText strings.Builder
	var currentThinking strings.Builder

	for stream.Next() {
		evt := stream.Current()

		switch evt.Type {
		case "message_start":
			ms := evt.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				result.usage.InputTokens = ms.Message.Usage.InputTokens
			}

		case "content_block_start":
			cbs := evt.AsContentBlockStart()
			block := cbs.ContentBlock
			switch block.Type {
			case "thinking":
				currentIsThinking = true
				currentThinking.Reset()
			case "tool_use":
				toolUse := block.AsToolUse()
				current = &pendingToolUse{id: toolUse.ID, name: toolUse.Name}
			case "text":
				currentText.Reset()
			}

		case "content_block_delta":
			cbd := evt.AsContentBlockDelta()
			delta := cbd.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					currentText.WriteString(delta.Text)
					events <- event.Text(delta.Text)
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					currentThinking.WriteString(delta.Thinking)
					events <- event.Thinking(delta.Thinking)
				}
			case "input_json_delta":
				if current != nil && delta.PartialJSON != "" {
					current.inputJSON.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentIsThinking {
				currentIsThinking = false
			} else if current != nil {
				raw := current.inputJSON.String()
				if raw == "" {
					raw = "{}"
				}
				current.input = json.RawMessage(raw)
				if current.name == structuredOutputTool {
					result.structuredOutput = current.input
				} else {
					events <- event.ToolStart(current.id, current.name, inputMap(current.input))
					result.toolUses = append(result.toolUses, toolUseResult{id: current.id, name: current.name, input: current.input})
				}
				current = nil
			} else if currentText.Len() > 0 {
				result.textBlocks = append(result.textBlocks, currentText.String())
			}

		case "message_delta":
			md := evt.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				result.usage.OutputTokens = md.Usage.OutputTokens
			}

		case "message_stop":
			return result, nil

		case "error":
			return result, fmt.Errorf("anthropic stream reported an error event")
		}
	}

	if err := stream.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func inputMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// estimateCostUSD is left nil when no published per-token rate is
// configured; the spec treats costUsd as optional (§3 Cost).
func estimateCostUSD(model string, usage anthropic.Usage) *float64 {
	return nil
}
