// Package driver implements the C5 agent driver: a thin per-turn
// adapter over a backend.Backend that drains its event stream, forwards
// events to a UI sink, and accumulates the turn's final output and
// continuation token (§4.4).
//
// Grounded on the teacher's internal/domain/service/agent_loop.go
// LLMClient.GenerateStream consumption pattern: drain a channel,
// accumulate text, surface a final response struct.
package driver

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/existential-birds/daydream-sub000/internal/backend"
	"github.com/existential-birds/daydream-sub000/internal/event"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// unknownSkillPattern recognizes an agent reporting that the invoked
// skill does not exist; the captured group is the skill name.
var unknownSkillPattern = regexp.MustCompile(`Unknown skill: ([\w:-]+)`)

// Sink receives every event as it is produced, in order, for UI
// rendering or logging. Implementations must not block significantly;
// the driver does not buffer beyond the channel depth.
type Sink interface {
	Handle(event.AgentEvent)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(event.AgentEvent)

func (f SinkFunc) Handle(e event.AgentEvent) { f(e) }

// NopSink discards every event.
var NopSink Sink = SinkFunc(func(event.AgentEvent) {})

// TurnOutput is the result of one driven turn.
type TurnOutput struct {
	// FinalOutput is StructuredOutput when a schema was supplied and the
	// backend produced one, otherwise the joined text of every Text
	// event (§4.4). Whether StructuredOutput actually satisfies the
	// requested schema is not the driver's concern (§4.4) — a mismatch
	// is reported as a Result with structuredOutput present but
	// possibly non-conforming; it is each phase's job to validate or
	// fall back per its own documented rule (§4.5).
	FinalOutput      string
	StructuredOutput json.RawMessage
	Continuation     *event.ContinuationToken
}

// Driver runs turns against one backend.
type Driver struct {
	Backend backend.Backend
	Sink    Sink
}

// New constructs a Driver. A nil sink is replaced with NopSink.
func New(b backend.Backend, sink Sink) *Driver {
	if sink == nil {
		sink = NopSink
	}
	return &Driver{Backend: b, Sink: sink}
}

// Run consumes one backend turn to completion, forwarding every event
// to the sink, and returns the accumulated TurnOutput. An error raised
// anywhere in the stream propagates to the caller (§4.4), and text
// matching unknownSkillPattern is returned as a MissingSkill error.
func (d *Driver) Run(ctx context.Context, cwd, prompt string, outputSchema json.RawMessage, continuation *event.ContinuationToken) (*TurnOutput, error) {
	events, errc := d.Backend.Execute(ctx, cwd, prompt, outputSchema, continuation)

	var text strings.Builder
	out := &TurnOutput{}
	hadSchema := len(outputSchema) > 0

	for e := range events {
		d.Sink.Handle(e)
		switch e.Kind {
		case event.KindText:
			text.WriteString(e.Text)
		case event.KindResult:
			out.StructuredOutput = e.StructuredOutput
			out.Continuation = e.Continuation
		}
	}

	if err := <-errc; err != nil {
		return nil, err
	}
	if m := unknownSkillPattern.FindStringSubmatch(text.String()); m != nil {
		return nil, apperrors.NewMissingSkillError(m[1])
	}

	if hadSchema && len(out.StructuredOutput) > 0 {
		out.FinalOutput = string(out.StructuredOutput)
	} else {
		out.FinalOutput = text.String()
	}
	return out, nil
}
