// Package bridge implements the single channel into the embedded MCP
// handler. Every canonical request
// crosses it paired with a oneshot reply slot; a lone consumer goroutine
// owns the handler and dispatches FIFO.
//
// Grounded on original_source/src/mcp_bridge.rs, whose `run` loop reads
// (Request, oneshot::Sender<Response>) pairs off an mpsc channel and
// dispatches on method name against a single EmbeddedHandler. Go has no
// oneshot primitive, so each envelope here carries its own buffered
// reply channel of size 1 in place of Rust's oneshot::Sender, the
// idiomatic Go substitute for "one reply, one send" without a dedicated
// library.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cyrup-ai/sugora/internal/protocol"
)

// ErrChannelFull is returned by Send when the dispatch channel has no
// free slot; callers surface this as back-pressure rather than waiting.
var ErrChannelFull = errors.New("bridge: dispatch channel full")

// ImplementationName is reported by "initialize"; the version reported
// alongside it comes from DefaultHandler.Version.
const ImplementationName = "sugora-gateway"

// Handler is the interface an embedded MCP server substitutes behind.
// The default handler below implements it.
type Handler interface {
	Initialize(ctx context.Context) (json.RawMessage, error)
	Shutdown(ctx context.Context) error
	HandleMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// envelope is one message crossing the bridge channel: the canonical
// request and its reply slot.
type envelope struct {
	req   protocol.CanonicalRequest
	reply chan protocol.CanonicalResponse
}

// Dispatcher owns the bounded channel and the consumer goroutine.
type Dispatcher struct {
	ch      chan envelope
	handler Handler
	log     *logrus.Logger
	onShut  func()
}

// New builds a Dispatcher with the given buffered channel depth and
// starts its single consumer goroutine. onShutdown, if non-nil, is
// invoked after a "shutdown" method completes, triggering graceful
// drain of the rest of the gateway.
func New(handler Handler, depth int, log *logrus.Logger, onShutdown func()) *Dispatcher {
	d := &Dispatcher{
		ch:      make(chan envelope, depth),
		handler: handler,
		log:     log,
		onShut:  onShutdown,
	}
	go d.run()
	return d
}

// Send enqueues req and blocks until the handler replies or ctx is done.
// FIFO across concurrent callers. Enqueue itself never blocks: a full
// channel is back-pressure and fails fast with ErrChannelFull instead of
// stalling the caller until ctx expires.
func (d *Dispatcher) Send(ctx context.Context, req protocol.CanonicalRequest) (protocol.CanonicalResponse, error) {
	env := envelope{req: req, reply: make(chan protocol.CanonicalResponse, 1)}
	select {
	case d.ch <- env:
	default:
		return protocol.CanonicalResponse{}, ErrChannelFull
	}

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-ctx.Done():
		return protocol.CanonicalResponse{}, ctx.Err()
	}
}

// Close closes the dispatch channel. Already-enqueued messages still
// drain; Send must not be called after Close, since sending on the closed
// channel panics.
func (d *Dispatcher) Close() {
	close(d.ch)
}

func (d *Dispatcher) run() {
	for env := range d.ch {
		env.reply <- d.dispatch(env.req)
	}
}

func (d *Dispatcher) dispatch(req protocol.CanonicalRequest) protocol.CanonicalResponse {
	ctx := context.Background()
	resp := protocol.CanonicalResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		result, err := d.handler.Initialize(ctx)
		if err != nil {
			resp.Error = toRPCError(err)
			return resp
		}
		resp.Result = result

	case "shutdown":
		err := d.handler.Shutdown(ctx)
		if err != nil {
			resp.Error = toRPCError(err)
			return resp
		}
		resp.Result = json.RawMessage("null")
		if d.onShut != nil {
			go d.onShut()
		}

	default:
		result, err := d.handler.HandleMethod(ctx, req.Method, req.Params)
		if err != nil {
			resp.Error = toRPCError(err)
			return resp
		}
		resp.Result = result
	}
	return resp
}

func toRPCError(err error) *protocol.RPCError {
	return &protocol.RPCError{Code: -32603, Message: err.Error()}
}

// DefaultHandler is the built-in echo handler: "initialize" returns
// default server capabilities and implementation info, "shutdown"
// returns null, and every other method echoes back
// {method, params, status: "handled"}.
type DefaultHandler struct {
	Version string
}

func (h DefaultHandler) Initialize(ctx context.Context) (json.RawMessage, error) {
	version := h.Version
	if version == "" {
		version = "dev"
	}
	caps := map[string]any{
		"implementation": map[string]string{"name": ImplementationName, "version": version},
		"capabilities":   map[string]any{},
	}
	return json.Marshal(caps)
}

func (h DefaultHandler) Shutdown(ctx context.Context) error {
	return nil
}

func (h DefaultHandler) HandleMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	out := map[string]any{"method": method, "status": "handled"}
	if len(params) > 0 {
		var decoded any
		if err := json.Unmarshal(params, &decoded); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		out["params"] = decoded
	}
	return json.Marshal(out)
}
