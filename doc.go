// Package albon provides a realtime WebSocket message server multiplexing
// four communication patterns over a single persistent connection per
// client, plus an RPC dispatch table.
//
// # Architecture
//
// Every frame is a JSON envelope with a `type` discriminator. The
// dispatcher decodes each inbound message, enforces authentication gating
// and routes it to the owning pattern engine:
//
//   - Ingest: fire-and-forget data submission with optional validation,
//     field-level encryption and persistence through a pluggable Store.
//   - Request/Response: correlated calls in both directions with timeouts.
//   - Pub/Sub: topic fan-out to dynamic subscriber sets.
//   - Streaming: named chunk sessions owned by one connection.
//   - RPC: a process-wide method table with exactly-one-reply semantics.
//
// A per-connection heartbeat monitor detects half-open connections, and
// connection teardown cascades atomically into subscriptions, stream
// sessions and pending requests so nothing leaks.
//
// # Quick Start
//
//	import (
//	    albon "github.com/coolguy916/Monitor-Framework-ALBON"
//	    "github.com/coolguy916/Monitor-Framework-ALBON/ws"
//	)
//
//	cfg := ws.DefaultConfig(":8080")
//	server := ws.New(cfg)
//
//	server.RegisterRPC("status", func(ctx context.Context, c albon.Client, params json.RawMessage) (any, error) {
//	    return map[string]string{"status": "ok"}, nil
//	})
//
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Wire Format
//
// Text frames carry JSON envelopes. The inbound kind set is closed:
// handshake, auth, data, request, response, subscribe, unsubscribe,
// publish, rpc, stream_start, stream_data, stream_end, heartbeat. Unknown
// kinds and malformed frames are answered with explicit error replies, not
// dropped. Binary frames optionally carry raw payloads outside the
// structured protocol.
//
// # Security
//
//   - Optional shared-token authentication: unauthenticated connections
//     may only send handshake, auth and heartbeat messages.
//   - Per-client rate limiting (token bucket, close code 1008).
//   - Configurable frame size limit.
//   - Origin validation via CheckOrigin.
//
// # Concurrency
//
// One goroutine reads each connection; messages from a single connection
// are processed in arrival order. Endpoint, RPC and ingest handlers run in
// their own goroutines so a blocking handler never stalls the read loop or
// other connections.
package albon
