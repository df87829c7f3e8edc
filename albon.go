package albon

import (
	"context"
	"encoding/json"
	"time"
)

// Server is a realtime message server multiplexing four communication
// patterns over a single persistent WebSocket per client: one-way data
// ingestion, correlated request/response, topic publish-subscribe and
// chunked streaming, plus an RPC dispatch table.
//
// All messages are JSON envelopes with a `type` discriminator. Server-side
// application code never touches sockets directly; every outbound call
// (SendRequest, Publish, stream operations) flows through the pattern
// engines to one or more connections.
//
// Example usage:
//
//	import "github.com/coolguy916/Monitor-Framework-ALBON/ws"
//
//	cfg := ws.DefaultConfig(":8080")
//	cfg.AuthPolicy = albon.AuthSharedToken
//	cfg.AuthToken = "secret"
//	server := ws.New(cfg)
//
//	server.RegisterRPC("status", func(ctx context.Context, c albon.Client, params json.RawMessage) (any, error) {
//	    return map[string]string{"status": "ok"}, nil
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start starts the server and begins accepting connections.
	// Returns an error if the server is already running or the listen
	// address cannot be bound.
	Start(ctx context.Context) error

	// Stop gracefully shuts the server down: new connections are refused,
	// every pending outbound request fails with ErrServerClosed, the
	// subscription and stream tables are cleared and every live connection
	// is closed with a normal-closure frame before the listener is
	// released.
	Stop(ctx context.Context) error

	// RegisterEndpoint registers application logic for inbound
	// request/response calls. Registering the same name twice replaces the
	// previous handler.
	RegisterEndpoint(name string, handler EndpointHandler)

	// UnregisterEndpoint removes an endpoint. Calls to a removed endpoint
	// receive a not-found error response.
	UnregisterEndpoint(name string)

	// RegisterRPC registers a handler in the process-wide RPC method
	// table. The handler runs in its own goroutine, so it may block;
	// exactly one reply is sent per call regardless of the handler
	// outcome. Registering the same method twice replaces the previous
	// handler.
	RegisterRPC(method string, handler RPCHandler)

	// UnregisterRPC removes a method from the RPC table.
	UnregisterRPC(method string)

	// SendRequest sends a correlated request to a connected client and
	// blocks until the matching response arrives or the timeout elapses.
	// A zero timeout uses the configured request timeout. Timeouts are
	// reported as ErrRequestTimeout, remote failures as ErrRemoteError.
	SendRequest(ctx context.Context, clientID, endpoint string, payload any, timeout time.Duration) (json.RawMessage, error)

	// Publish fans a payload out to every current subscriber of the topic
	// except excludeClientID (pass "" to exclude nobody) and returns the
	// number of recipients. Publishing to a topic without subscribers is a
	// legal no-op returning zero.
	Publish(ctx context.Context, topic string, payload any, excludeClientID string) (int, error)

	// StartStream opens a named stream session owned by the given client.
	// Starting a stream id that is already active returns
	// ErrDuplicateStream.
	StartStream(ctx context.Context, clientID, streamID, kind string) error

	// SendStreamData forwards a chunk to the stream's owning connection.
	// Pass seq < 0 when the chunk carries no sequence hint.
	SendStreamData(ctx context.Context, streamID string, chunk any, seq int64) error

	// EndStream notifies the owning connection and removes the session.
	EndStream(ctx context.Context, streamID string) error

	// Ingest submits a payload through the ingest pattern on behalf of a
	// local producer (for example a serial device bridge). The payload is
	// validated, annotated with the source identity and receipt time,
	// field-encrypted per configuration and persisted. Returns the
	// store-assigned record id.
	Ingest(ctx context.Context, source, category string, payload map[string]any) (string, error)

	// Client returns a connected client by id.
	Client(id string) (Client, bool)

	// Clients returns a snapshot of all live connections.
	Clients() []Client
}

// Client represents one accepted connection. The identifier is generated at
// accept time and is unique for the process lifetime.
type Client interface {
	// ID returns the connection identifier.
	ID() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// ClientType returns the category the client declared during the
	// handshake, or ClientTypeUnknown before the handshake.
	ClientType() string

	// Capabilities returns the capability set advertised in the
	// handshake.
	Capabilities() []string

	// IsAuthenticated reports whether the connection passed the auth
	// gate. Under AuthDisabled every connection starts authenticated.
	IsAuthenticated() bool

	// Context returns the connection's lifecycle context, cancelled when
	// the connection closes.
	Context() context.Context

	// IsAlive reports whether the connection is still open.
	IsAlive() bool

	// Close closes the connection with a normal-closure frame.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close
	// code and optional reason.
	CloseWithCode(ctx context.Context, code int, reason string) error
}

// EndpointHandler serves one inbound request/response call. The returned
// value is marshalled into the response payload; a non-nil error produces an
// error response instead. Exactly one response is sent either way.
type EndpointHandler func(ctx context.Context, caller Client, payload json.RawMessage) (any, error)

// RPCHandler serves one inbound RPC call. Handlers run in their own
// goroutine and may block; a panic inside the handler is converted into an
// error reply.
type RPCHandler func(ctx context.Context, caller Client, params json.RawMessage) (any, error)

// BinaryHandler receives raw binary frames when binary payload support is
// enabled. Binary traffic is tagged separately from the structured JSON
// envelopes and bypasses the pattern engines.
type BinaryHandler func(caller Client, data []byte)

// StreamChunkHandler receives chunks of client-initiated stream sessions.
// seq is -1 when the chunk carried no sequence number.
type StreamChunkHandler func(caller Client, streamID, kind string, seq int64, chunk json.RawMessage)

// ConnectHandler is called after a connection is registered, before its
// read loop starts.
type ConnectHandler func(client Client)

// DisconnectHandler is called after a connection is torn down. voluntary is
// true when the client closed the connection itself.
type DisconnectHandler func(client Client, voluntary bool)
