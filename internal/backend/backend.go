// Package backend defines the uniform contract (§4.1) implemented by the
// SDK backend (sdkbackend) and the subprocess backend (subprocess), and
// the pure skill-invocation formatting shared by both.
package backend

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/existential-birds/daydream-sub000/internal/event"
)

// Backend is a uniform contract over an in-process SDK or an external
// subprocess. Implementations must be safe for one in-flight Execute at
// a time; Cancel may be called from any goroutine.
type Backend interface {
	// Execute returns a lazy, finite, single-consumer stream of events.
	// The channel is closed after the terminal Result is delivered, or
	// after an error is delivered on errc. At most one of (a Result
	// event, an error) terminates the stream.
	Execute(ctx context.Context, cwd, prompt string, outputSchema json.RawMessage, continuation *event.ContinuationToken) (<-chan event.AgentEvent, <-chan error)

	// Cancel is idempotent and may be called concurrently with Execute.
	// It causes the in-flight Execute to terminate within a small fixed
	// grace period.
	Cancel()

	// Name identifies the backend for continuation-token scoping
	// (ContinuationToken.Backend).
	Name() string

	// FormatSkillInvocation is a pure function from skill name and
	// optional argument string to the textual form this backend expects
	// the user prompt to contain.
	FormatSkillInvocation(skillKey, args string) string
}

// SlashStyle formats a skill invocation as the Claude-style
// "/namespace:skill [args]" literal.
func SlashStyle(namespace, skillKey, args string) string {
	var b strings.Builder
	b.WriteByte('/')
	if namespace != "" {
		b.WriteString(namespace)
		b.WriteByte(':')
	}
	b.WriteString(skillKey)
	if args != "" {
		b.WriteByte(' ')
		b.WriteString(args)
	}
	return b.String()
}

// DollarStyle formats a skill invocation as the Codex-style "$skill
// [args]" literal. Any "namespace:" prefix on skillKey is stripped, so
// invoking "ns:name" and "name" produce identical output (§8 round-trip
// property).
func DollarStyle(skillKey, args string) string {
	if idx := strings.LastIndex(skillKey, ":"); idx >= 0 {
		skillKey = skillKey[idx+1:]
	}
	var b strings.Builder
	b.WriteByte('$')
	b.WriteString(skillKey)
	if args != "" {
		b.WriteByte(' ')
		b.WriteString(args)
	}
	return b.String()
}
