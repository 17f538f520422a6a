package acp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// defaultCallTimeout bounds an outbound request (session/request_permission)
// waiting for the client's reply.
const defaultCallTimeout = 5 * time.Minute

// Conn is the server-side half of the ACP stdio transport: a read loop over
// an input stream dispatching inbound requests/notifications to a handler,
// a mutex-guarded writer for outbound frames, and a pending-response
// correlation table for requests the bridge itself originates
// (session/request_permission). Grounded on haasonsaas-nexus's
// internal/mcp/transport_stdio.go StdioTransport, mirrored server-side:
// the read loop, 1MB scan buffer, and pending map are the same shape; the
// roles of request/response direction are reversed.
type Conn struct {
	in  *bufio.Scanner
	out io.Writer

	writeMu sync.Mutex

	pending   map[string]chan *Response
	pendingMu sync.Mutex
	nextOutID atomic.Int64

	logger *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewConn wraps r/w as the ACP transport.
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		in:       scanner,
		out:      w,
		pending:  make(map[string]chan *Response),
		logger:   logger.With("component", "acp"),
		stopChan: make(chan struct{}),
	}
}

// Close stops the read loop. Safe to call more than once.
func (c *Conn) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// ReadLoop scans newline-delimited frames from the input until EOF, the
// stream errors, or Close is called, dispatching each to onRequest or, for
// frames carrying an ID with no method (our own outbound calls' replies),
// to the pending table. Blocks until the input is exhausted.
func (c *Conn) ReadLoop(onRequest func(*Request)) error {
	for c.in.Scan() {
		select {
		case <-c.stopChan:
			return nil
		default:
		}

		line := c.in.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			c.logger.Warn("malformed frame, skipping", "error", err)
			continue
		}

		if probe.Method == "" {
			// A response to one of our own outbound calls.
			var resp Response
			if err := json.Unmarshal(line, &resp); err != nil {
				c.logger.Warn("malformed response frame, skipping", "error", err)
				continue
			}
			c.routeResponse(&resp)
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			c.logger.Warn("malformed request frame, skipping", "error", err)
			continue
		}
		onRequest(&req)
	}
	return c.in.Err()
}

func (c *Conn) routeResponse(resp *Response) {
	id := fmt.Sprintf("%v", resp.ID)
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Warn("response for unknown outbound request id, dropping", "id", id)
		return
	}
	ch <- resp
}

// SendResponse writes a JSON-RPC response frame for an inbound request.
func (c *Conn) SendResponse(id any, result any, errPayload *ErrorPayload) error {
	return c.writeFrame(Response{JSONRPC: "2.0", ID: id, Result: result, Error: errPayload})
}

// SendNotification writes an outbound notification frame.
func (c *Conn) SendNotification(method string, params any) error {
	return c.writeFrame(Notification{JSONRPC: "2.0", Method: method, Params: params})
}

// Call issues an outbound request (session/request_permission) and blocks
// until the client replies, timeout elapses, or the connection is
// closed. Outbound ids are drawn from a separate "srv-N" namespace so they
// can never collide with ids the client assigns its own inbound requests.
func (c *Conn) Call(method string, params any, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	id := fmt.Sprintf("srv-%d", c.nextOutID.Add(1))

	respCh := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(Request{JSONRPC: "2.0", ID: id, Method: method, Params: mustRaw(params)}); err != nil {
		return nil, fmt.Errorf("write outbound request: %w", err)
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("outbound call %s timed out after %v", method, timeout)
	case <-c.stopChan:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *Conn) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// decodeResult re-marshals an untyped Response.Result (it unmarshals as
// map[string]any/float64/etc. by default) into a concrete struct.
func decodeResult(result any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func mustRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
