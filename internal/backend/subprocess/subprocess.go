// Package subprocess implements the C4 backend: it spawns an external
// CLI, writes the prompt to its stdin, parses its line-delimited JSON
// event stream from merged stdout/stderr, reconciles partial/streamed
// items into AgentEvent pairs, and guarantees the child is terminated
// on stream exhaustion, cancellation, or failure (§4.3).
//
// Grounded on the teacher's internal/infrastructure/sandbox.ProcessSandbox
// (stdin/stdout pipes, SysProcAttr{Setpgid:true} process-group isolation,
// timeout-then-kill discipline) and internal/infrastructure/tool.lspServer
// (long-lived child process, background-reader goroutine, bufio.Reader
// line parsing).
package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/existential-birds/daydream-sub000/internal/backend"
	"github.com/existential-birds/daydream-sub000/internal/event"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

// backendName scopes ContinuationToken values to this backend.
const backendName = "codex"

// gracePeriod is how long Termination/Cancel wait after the graceful
// signal before escalating to a forceful kill (§4.3, §5).
const gracePeriod = 5 * time.Second

// Config configures a Backend.
type Config struct {
	CLIPath string // binary name resolved on PATH, default "codex"
	Model   string
	Sandbox string // e.g. "workspace-write", "read-only"
	Logger  *zap.Logger
}

// Backend spawns and drives the external CLI described in §4.3.
type Backend struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	current *liveProcess
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a Backend from cfg, applying defaults for CLIPath and
// Sandbox when unset.
func New(cfg Config) *Backend {
	if cfg.CLIPath == "" {
		cfg.CLIPath = "codex"
	}
	if cfg.Sandbox == "" {
		cfg.Sandbox = "workspace-write"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{cfg: cfg, logger: logger}
}

// Name identifies this backend for continuation-token scoping.
func (b *Backend) Name() string { return backendName }

// FormatSkillInvocation formats a skill as the Codex-style dollar
// literal (§4.1).
func (b *Backend) FormatSkillInvocation(skillKey, args string) string {
	return backend.DollarStyle(skillKey, args)
}

// Cancel performs the graceful-then-forceful shutdown on the
// currently-running child, if any. Idempotent; safe from any goroutine.
func (b *Backend) Cancel() {
	b.mu.Lock()
	cur := b.current
	b.mu.Unlock()
	if cur != nil {
		cur.terminate()
	}
}

// Execute spawns the external CLI and returns its mapped event stream.
func (b *Backend) Execute(ctx context.Context, cwd, prompt string, outputSchema json.RawMessage, continuation *event.ContinuationToken) (<-chan event.AgentEvent, <-chan error) {
	events := make(chan event.AgentEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		err := b.run(ctx, cwd, prompt, outputSchema, continuation, events)
		if err != nil {
			errc <- err
		}
		close(errc)
	}()

	return events, errc
}

func (b *Backend) run(ctx context.Context, cwd, prompt string, outputSchema json.RawMessage, continuation *event.ContinuationToken, events chan<- event.AgentEvent) error {
	schemaPath, cleanupSchema, err := writeSchemaFile(outputSchema)
	if err != nil {
		return apperrors.NewTransportFailure("failed to write output schema file", err)
	}
	defer cleanupSchema()

	args := buildArgs(b.cfg, cwd, schemaPath, continuation)
	cmd := exec.Command(b.cfg.CLIPath, args...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperrors.NewTransportFailure("failed to open stdin pipe", err)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return apperrors.NewTransportFailure(fmt.Sprintf("failed to start %s", b.cfg.CLIPath), err)
	}

	lp := &liveProcess{cmd: cmd, done: make(chan struct{})}
	b.mu.Lock()
	b.current = lp
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.current == lp {
			b.current = nil
		}
		b.mu.Unlock()
	}()

	go func() {
		_, _ = io.WriteString(stdin, prompt)
		_ = stdin.Close()
	}()

	waitErrCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		close(lp.done)
		waitErrCh <- err
	}()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			lp.terminate()
		case <-watchDone:
		}
	}()

	m := newMapper(b.logger)
	reader := bufio.NewReader(pr)

	var turnErr error
	var turnDone bool
	var lastTurnEvent wireEvent

	for {
		line, readErr := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var we wireEvent
			if err := json.Unmarshal([]byte(trimmed), &we); err != nil {
				b.logger.Debug("unparseable subprocess line, skipping", zap.Error(err), zap.String("line", trimmed))
			} else {
				out := m.handle(we, func(e event.AgentEvent) { events <- e })
				switch {
				case out.failErr != nil:
					turnErr = out.failErr
					turnDone = true
				case out.done:
					lastTurnEvent = we
					turnDone = true
				}
			}
		}
		if readErr != nil {
			break
		}
		if turnDone {
			break
		}
	}

	// Keep draining the pipe after an early break so the child's writes
	// (and cmd.Wait's copy into pw) never block on a missing reader.
	go func() { _, _ = io.Copy(io.Discard, pr) }()
	<-waitErrCh
	lp.terminate() // no-op if the child already exited naturally

	if turnErr != nil {
		return turnErr
	}
	if !turnDone {
		return apperrors.NewTransportFailure("subprocess exited without a terminal turn event", nil)
	}

	structured := extractStructuredOutput(m.lastAgentText, lastTurnEvent)

	var inputTokens, outputTokens *int
	if lastTurnEvent.Usage != nil {
		it, ot := lastTurnEvent.Usage.InputTokens, lastTurnEvent.Usage.OutputTokens
		inputTokens, outputTokens = &it, &ot
	}
	events <- event.Cost(nil, inputTokens, outputTokens)

	var cont *event.ContinuationToken
	if m.threadID != "" {
		data, _ := json.Marshal(map[string]string{"thread_id": m.threadID})
		cont = &event.ContinuationToken{Backend: backendName, Data: data}
	}
	events <- event.Result(structured, cont)
	return nil
}

// buildArgs constructs the argument vector per §4.3.
func buildArgs(cfg Config, cwd, schemaPath string, continuation *event.ContinuationToken) []string {
	args := []string{"exec", "--experimental-json", "--model", cfg.Model, "--sandbox", cfg.Sandbox, "--cd", cwd}
	if schemaPath != "" {
		args = append(args, "--output-schema", schemaPath)
	}
	if continuation.ForBackend(backendName) {
		var data struct {
			ThreadID string `json:"thread_id"`
		}
		if err := json.Unmarshal(continuation.Data, &data); err == nil && data.ThreadID != "" {
			args = append(args, "resume", data.ThreadID)
		}
	}
	return args
}

// writeSchemaFile materializes outputSchema to a temp file, if present.
// The returned cleanup unconditionally removes it (§4.3 Termination:
// "Unconditionally delete the temporary schema file").
func writeSchemaFile(schema json.RawMessage) (path string, cleanup func(), err error) {
	if len(schema) == 0 {
		return "", func() {}, nil
	}
	f, err := os.CreateTemp("", "daydream-schema-*.json")
	if err != nil {
		return "", func() {}, err
	}
	if _, err := f.Write(schema); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
