package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/registry"
)

type pendingRequest struct {
	responseCh chan *protocol.Message
	errCh      chan error
}

// RequestResponse correlates request/response pairs in both directions:
// inbound calls against application-registered endpoints, and outbound
// server-initiated requests with a deadline.
type RequestResponse struct {
	reg     *registry.Registry
	timeout time.Duration
	log     zerolog.Logger

	pendMu  sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	epMu      sync.RWMutex
	endpoints map[string]albon.EndpointHandler
}

// NewRequestResponse creates the engine. defaultTimeout applies to outbound
// requests issued without an explicit timeout.
func NewRequestResponse(reg *registry.Registry, defaultTimeout time.Duration, log zerolog.Logger) *RequestResponse {
	return &RequestResponse{
		reg:       reg,
		timeout:   defaultTimeout,
		log:       log.With().Str("component", "reqresp").Logger(),
		pending:   make(map[string]*pendingRequest),
		endpoints: make(map[string]albon.EndpointHandler),
	}
}

// RegisterEndpoint installs application logic for inbound requests.
// Registering the same name twice replaces the previous handler.
func (e *RequestResponse) RegisterEndpoint(name string, handler albon.EndpointHandler) {
	e.epMu.Lock()
	defer e.epMu.Unlock()
	e.endpoints[name] = handler
}

// UnregisterEndpoint removes an endpoint.
func (e *RequestResponse) UnregisterEndpoint(name string) {
	e.epMu.Lock()
	defer e.epMu.Unlock()
	delete(e.endpoints, name)
}

func (e *RequestResponse) endpoint(name string) (albon.EndpointHandler, bool) {
	e.epMu.RLock()
	defer e.epMu.RUnlock()
	h, ok := e.endpoints[name]
	return h, ok
}

// HandleRequest serves one inbound request and sends exactly one response
// carrying the caller's correlation id, whatever the handler outcome.
func (e *RequestResponse) HandleRequest(ctx context.Context, caller Caller, msg *protocol.Message) {
	handler, ok := e.endpoint(msg.Endpoint)
	if !ok {
		e.reply(ctx, caller, protocol.ErrResponse(msg.ID, fmt.Sprintf("%s: %s", albon.ErrEndpointNotFound, msg.Endpoint)))
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

// invoke runs an endpoint handler, converting a panic into an error so a
// faulty handler cannot take the connection down.
func (e *RequestResponse) invoke(ctx context.Context, caller Caller, handler albon.EndpointHandler, payload json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error().Interface("panic", rec).Str("client_id", caller.ID()).Msg("endpoint handler panicked")
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return handler(ctx, caller, payload)
}

func (e *RequestResponse) reply(ctx context.Context, caller Caller, msg *protocol.Message) {
	if err := caller.Send(ctx, msg); err != nil {
		e.log.Debug().Err(err).Str("client_id", caller.ID()).Msg("failed to send response")
	}
}

// SendRequest issues an outbound request to a connected client and blocks
// until the matching response arrives or the deadline elapses. The pending
// entry is removed before the timeout is reported, so a late response is a
// logged no-op rather than a double resolution.
func (e *RequestResponse) SendRequest(ctx context.Context, clientID, endpoint string, payload any, timeout time.Duration) (json.RawMessage, error) {
	peer, ok := e.reg.Lookup(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", albon.ErrClientNotFound, clientID)
	}

	data, err := protocol.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = e.timeout
	}

	id := uuid.NewString()
	pr := &pendingRequest{
		responseCh: make(chan *protocol.Message, 1),
		errCh:      make(chan error, 1),
	}

	e.pendMu.Lock()
	if e.closed {
		e.pendMu.Unlock()
		return nil, albon.ErrServerClosed
	}
	e.pending[id] = pr
	e.pendMu.Unlock()

	msg := &protocol.Message{Type: protocol.TypeRequest, ID: id, Endpoint: endpoint, Payload: data}
	if err := peer.Send(ctx, msg); err != nil {
		e.take(id)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-pr.responseCh:
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", albon.ErrRemoteError, resp.Error)
		}
		return resp.Payload, nil

	case err := <-pr.errCh:
		return nil, err

	case <-time.After(timeout):
		if e.take(id) == nil {
			// The entry was already resolved: a response won the race
			// against the timer, or Shutdown failed it.
			select {
			case resp := <-pr.responseCh:
				if resp.Error != "" {
					return nil, fmt.Errorf("%w: %s", albon.ErrRemoteError, resp.Error)
				}
				return resp.Payload, nil
			case err := <-pr.errCh:
				return nil, err
			}
		}
		return nil, albon.ErrRequestTimeout

	case <-ctx.Done():
		e.take(id)
		return nil, ctx.Err()
	}
}

// take removes and returns the pending entry, or nil if it was already
// resolved.
func (e *RequestResponse) take(id string) *pendingRequest {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()

	pr, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	return pr
}

// HandleResponse resolves the pending outbound request matching the
// response's correlation id. A response for an id that is not pending (never
// issued, expired, or already resolved) is ignored and logged.
func (e *RequestResponse) HandleResponse(callerID string, msg *protocol.Message) {
	pr := e.take(msg.ID)
	if pr == nil {
		e.log.Debug().Str("client_id", callerID).Str("request_id", msg.ID).Msg("response for unknown request")
		return
	}

	pr.responseCh <- msg
}

// Shutdown fails every pending outbound request with a shutdown error
// instead of leaving it to time out, and refuses new requests.
func (e *RequestResponse) Shutdown() {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()

	e.closed = true
	for id, pr := range e.pending {
		delete(e.pending, id)
		pr.errCh <- albon.ErrServerClosed
	}
}

// PendingCount reports the number of in-flight outbound requests.
func (e *RequestResponse) PendingCount() int {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	return len(e.pending)
}
