package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// RPC is the process-wide method-name to handler table. It is mutated only
// by explicit Register/Unregister calls and read concurrently by in-flight
// calls.
type RPC struct {
	mu      sync.RWMutex
	methods map[string]albon.RPCHandler
	log     zerolog.Logger
}

func NewRPC(log zerolog.Logger) *RPC {
	return &RPC{
		methods: make(map[string]albon.RPCHandler),
		log:     log.With().Str("component", "rpc").Logger(),
	}
}

// Register installs a handler. Registering the same method twice replaces
// the previous handler.
func (e *RPC) Register(method string, handler albon.RPCHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.methods[method] = handler
}

// Unregister removes a method from the table.
func (e *RPC) Unregister(method string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.methods, method)
}

func (e *RPC) handler(method string) (albon.RPCHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.methods[method]
	return h, ok
}

// HandleCall serves one inbound RPC call. Exactly one reply is sent per
// call: a not-found error for a missing method, an error reply when the
// handler fails or panics, a success reply otherwise.
func (e *RPC) HandleCall(ctx context.Context, caller Caller, msg *protocol.Message) {
	handler, ok := e.handler(msg.Method)
	if !ok {
		e.reply(ctx, caller, protocol.ErrResponse(msg.ID, fmt.Sprintf("%s: %s", albon.ErrMethodNotFound, msg.Method)))
		return
	}

	result, err := e.invoke(ctx, caller, handler, msg.Payload)
	if err != nil {
		e.reply(ctx, caller, protocol.ErrResponse(msg.ID, err.Error()))
		return
	}

	payload, err := protocol.MarshalPayload(result)
	if err != nil {
		e.reply(ctx, caller, protocol.ErrResponse(msg.ID, err.Error()))
		return
	}

	e.reply(ctx, caller, protocol.Response(msg.ID, payload))
}

func (e *RPC) invoke(ctx context.Context, caller Caller, handler albon.RPCHandler, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error().Interface("panic", rec).Str("client_id", caller.ID()).Msg("rpc handler panicked")
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return handler(ctx, caller, params)
}

func (e *RPC) reply(ctx context.Context, caller Caller, msg *protocol.Message) {
	if err := caller.Send(ctx, msg); err != nil {
		e.log.Debug().Err(err).Str("client_id", caller.ID()).Msg("failed to send rpc reply")
	}
}
