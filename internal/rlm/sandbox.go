package rlm

import (
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
	"github.com/existential-birds/daydream-sub000/pkg/safego"
)

// ExecuteResult is the sandbox's response to one execute(code) call.
type ExecuteResult struct {
	Status string // "ok" | "final" | "error"
	Stdout string
	Stderr string
	Final  string
	Err    string
}

type executeResultWire struct {
	Status string `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Final  string `json:"final,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Sandbox is one long-lived python3 subprocess running sandboxBootstrap,
// reused across every Execute call for the lifetime of a REPL session
// (§4.7). Grounded on the teacher's process_sandbox.go subprocess
// lifecycle, swapping its one-shot request/response model for the
// bidirectional Conn that lets generated code call back into the host.
type Sandbox struct {
	cmd    *exec.Cmd
	conn   *Conn
	logger *zap.Logger
}

// NewSandbox starts pythonPath (defaulting to "python3") running the
// embedded bootstrap, and wires a Conn over its stdin/stdout so ns
// answers the code's repo/llm_query callbacks. The caller must Close
// the Sandbox when done.
func NewSandbox(ctx context.Context, pythonPath string, ns *Namespace, logger *zap.Logger) (*Sandbox, error) {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, pythonPath, "-u", "-c", sandboxBootstrap)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.NewTransportFailure("failed to open sandbox stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.NewTransportFailure("failed to open sandbox stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.NewTransportFailure("failed to start sandbox process", err)
	}

	var handler Handler
	if ns != nil {
		handler = ns.Handle
	}
	conn := NewConn(stdin, handler, logger)

	sb := &Sandbox{cmd: cmd, conn: conn, logger: logger}
	safego.Go(logger, "rlm-sandbox-reader", func() {
		if err := conn.Serve(ctx, stdout); err != nil && err != io.EOF {
			logger.Debug("rlm sandbox connection closed", zap.Error(err))
		}
	})
	return sb, nil
}

// Execute runs code in the sandbox's persistent namespace and waits for
// its result.
func (s *Sandbox) Execute(ctx context.Context, code string) (ExecuteResult, error) {
	raw, err := s.conn.Call(ctx, "execute", map[string]string{"code": code})
	if err != nil {
		return ExecuteResult{}, apperrors.NewTransportFailure("sandbox execute call failed", err)
	}
	var wire executeResultWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ExecuteResult{}, apperrors.NewParseFailure("sandbox returned malformed execute result", err)
	}
	return ExecuteResult(wire), nil
}

// Ping sends a heartbeat and waits up to timeout for the sandbox to
// answer, surfacing a dead or wedged subprocess.
func (s *Sandbox) Ping(ctx context.Context, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.conn.Call(pingCtx, "ping", map[string]any{})
	return err
}

// Close terminates the sandbox subprocess.
func (s *Sandbox) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
