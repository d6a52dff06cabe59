package rlm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/existential-birds/daydream-sub000/pkg/safego"
)

// Handler answers one inbound request arriving from the peer (the
// sandbox's llm_query-style callbacks).
type Handler func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcMessage covers all three JSON-RPC 2.0 shapes this channel carries:
// outbound/inbound requests, their responses, and notifications. Framed
// one message per line (§6: "JSON-RPC 2.0 over line-delimited JSON on
// stdin/stdout"), unlike the teacher's lsp_tool.go Content-Length
// framing, which does not apply to this sandbox channel.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Conn is a bidirectional JSON-RPC 2.0 channel over a pair of
// line-delimited streams: the host can Call the peer (execute, ping)
// and the peer can call back into the host's Handler (llm_query,
// files_containing, ...), mirroring lsp_tool.go's pending-request-map +
// background-reader-goroutine idiom, generalized to handle both
// directions on one connection.
type Conn struct {
	mu      sync.Mutex
	w       io.Writer
	nextID  int64
	pending map[int64]chan rpcMessage
	handler Handler
	logger  *zap.Logger
}

// NewConn wires a Conn that writes requests/responses to w and answers
// inbound requests via handler.
func NewConn(w io.Writer, handler Handler, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		w:       w,
		pending: make(map[int64]chan rpcMessage),
		handler: handler,
		logger:  logger,
	}
}

// Serve reads newline-delimited JSON-RPC messages from r until EOF or
// ctx is cancelled, routing responses to their waiting Call and
// requests to handler. It blocks until the stream ends.
func (c *Conn) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("rlm: malformed rpc line", zap.Error(err))
			continue
		}

		switch {
		case msg.Method != "" && msg.ID != nil:
			safego.Go(c.logger, "rlm-rpc-request:"+msg.Method, func() { c.handleInboundRequest(ctx, msg) })
		case msg.Method != "" && msg.ID == nil:
			if c.handler != nil {
				safego.Go(c.logger, "rlm-rpc-notification:"+msg.Method, func() { _, _ = c.handler(ctx, msg.Method, msg.Params) })
			}
		case msg.ID != nil:
			c.deliverResponse(*msg.ID, msg)
		default:
			c.logger.Warn("rlm: rpc message with neither method nor id")
		}
	}
	c.drainPending(fmt.Errorf("rlm: connection closed"))
	return scanner.Err()
}

func (c *Conn) deliverResponse(id int64, msg rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Conn) drainPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcMessage{Error: &rpcError{Code: -32001, Message: err.Error()}}
		delete(c.pending, id)
	}
}

func (c *Conn) handleInboundRequest(ctx context.Context, msg rpcMessage) {
	if c.handler == nil {
		_ = c.writeMessage(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Error: &rpcError{Code: -32601, Message: "no handler installed"}})
		return
	}
	result, err := c.handler(ctx, msg.Method, msg.Params)
	resp := rpcMessage{JSONRPC: "2.0", ID: msg.ID}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	if err := c.writeMessage(resp); err != nil {
		c.logger.Warn("rlm: failed writing rpc response", zap.Error(err))
	}
}

// Call issues method(params) to the peer and blocks for its response.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeMessage(rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: paramsRaw}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("rlm: %s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *Conn) writeMessage(msg rpcMessage) error {
	msg.JSONRPC = "2.0"
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	body = append(body, '\n')
	_, err = c.w.Write(body)
	return err
}
