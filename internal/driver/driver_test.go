package driver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/existential-birds/daydream-sub000/internal/event"
)

type fakeBackend struct {
	events []event.AgentEvent
	err    error
}

func (f *fakeBackend) Execute(ctx context.Context, cwd, prompt string, schema json.RawMessage, continuation *event.ContinuationToken) (<-chan event.AgentEvent, <-chan error) {
	events := make(chan event.AgentEvent, len(f.events))
	errc := make(chan error, 1)
	for _, e := range f.events {
		events <- e
	}
	close(events)
	if f.err != nil {
		errc <- f.err
	}
	close(errc)
	return events, errc
}

func (f *fakeBackend) Cancel()                                         {}
func (f *fakeBackend) Name() string                                    { return "fake" }
func (f *fakeBackend) FormatSkillInvocation(skillKey, args string) string { return skillKey }

func TestDriver_AccumulatesTextAndResult(t *testing.T) {
	b := &fakeBackend{events: []event.AgentEvent{
		event.Text("hello "),
		event.Text("world"),
		event.Result(nil, &event.ContinuationToken{Backend: "fake", Data: json.RawMessage(`{}`)}),
	}}
	d := New(b, nil)
	out, err := d.Run(context.Background(), "/tmp", "do it", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FinalOutput != "hello world" {
		t.Fatalf("expected joined text, got %q", out.FinalOutput)
	}
	if out.Continuation == nil || out.Continuation.Backend != "fake" {
		t.Fatalf("expected continuation captured, got %#v", out.Continuation)
	}
}

func TestDriver_PrefersStructuredOutputWhenSchemaSupplied(t *testing.T) {
	b := &fakeBackend{events: []event.AgentEvent{
		event.Text("ignored prose"),
		event.Result(json.RawMessage(`{"issues":[]}`), nil),
	}}
	d := New(b, nil)
	out, err := d.Run(context.Background(), "/tmp", "do it", json.RawMessage(`{"type":"object"}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FinalOutput != `{"issues":[]}` {
		t.Fatalf("expected structured output preferred, got %q", out.FinalOutput)
	}
}

func TestDriver_PropagatesStreamError(t *testing.T) {
	b := &fakeBackend{err: context.DeadlineExceeded}
	d := New(b, nil)
	_, err := d.Run(context.Background(), "/tmp", "do it", nil, nil)
	if err == nil {
		t.Fatal("expected propagated error")
	}
}
