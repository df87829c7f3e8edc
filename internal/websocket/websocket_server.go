package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/engine"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/registry"
)

// CheckOriginFn validates the origin of a WebSocket upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// RateLimitConfig defines per-client rate limiting.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per
	// second.
	MessagesPerSecond rate.Limit
	// Burst defines the token bucket capacity.
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// Config is the server configuration. It is immutable after Start.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// MaxConnections caps concurrent connections; <= 0 means unlimited.
	MaxConnections int

	// AuthPolicy is albon.AuthDisabled or albon.AuthSharedToken.
	AuthPolicy string
	// AuthToken is the shared token under AuthSharedToken.
	AuthToken string
	// AuthFailureGrace is how long a failure acknowledgment gets to flush
	// before the connection is force-closed.
	AuthFailureGrace time.Duration

	// Per-pattern enable flags.
	EnableValidation      bool
	EnableRequestResponse bool
	EnablePubSub          bool
	EnableRPC             bool
	EnableStreaming       bool
	EnableBinary          bool

	// RequestTimeout bounds outbound requests issued without an explicit
	// timeout.
	RequestTimeout time.Duration
	// HeartbeatInterval is the liveness probe period; 0 disables the
	// monitor.
	HeartbeatInterval time.Duration
	// HeartbeatTimeoutMultiplier: a connection idle for longer than
	// interval * multiplier is force-closed.
	HeartbeatTimeoutMultiplier int
	// MaxPayloadSize bounds a single frame in bytes.
	MaxPayloadSize int

	// Ingest pattern configuration.
	IngestTable     string
	RequiredFields  map[string][]string
	EncryptedFields []string

	// Store is the persistence collaborator; nil disables persistence.
	Store albon.Store
	// Encryptor applies field-level encryption before inserts; nil
	// disables encryption.
	Encryptor albon.Encryptor

	RateLimit   *RateLimitConfig
	CheckOrigin CheckOriginFn

	OnConnect    albon.ConnectHandler
	OnDisconnect albon.DisconnectHandler
	OnBinary     albon.BinaryHandler
	OnStreamData albon.StreamChunkHandler

	Logger zerolog.Logger
}

// Server implements the albon.Server interface over WebSocket transport.
type Server struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	log      zerolog.Logger

	registry  *registry.Registry
	ingest    *engine.Ingest
	reqresp   *engine.RequestResponse
	pubsub    *engine.PubSub
	streaming *engine.Streaming
	rpc       *engine.RPC
	auth      *authGate
	heartbeat *heartbeatMonitor

	mu      sync.Mutex
	running bool
}

// New creates a server from the configuration, applying defaults for unset
// fields.
func New(cfg *Config) *Server {
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	if cfg.HeartbeatTimeoutMultiplier <= 0 {
		cfg.HeartbeatTimeoutMultiplier = 3
	}
	if cfg.AuthFailureGrace <= 0 {
		cfg.AuthFailureGrace = 250 * time.Millisecond
	}
	if cfg.AuthPolicy == "" {
		cfg.AuthPolicy = albon.AuthDisabled
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}

	log := cfg.Logger.With().Str("component", "server").Logger()
	reg := registry.New(cfg.MaxConnections)

	s := &Server{
		cfg: *cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		registry: reg,
		ingest: engine.NewIngest(cfg.Store, cfg.Encryptor, engine.IngestConfig{
			Table:           cfg.IngestTable,
			RequiredFields:  cfg.RequiredFields,
			EncryptedFields: cfg.EncryptedFields,
			Validate:        cfg.EnableValidation,
		}, cfg.Logger),
		reqresp:   engine.NewRequestResponse(reg, cfg.RequestTimeout, cfg.Logger),
		pubsub:    engine.NewPubSub(reg, cfg.Logger),
		streaming: engine.NewStreaming(reg, cfg.OnStreamData, cfg.Logger),
		rpc:       engine.NewRPC(cfg.Logger),
		auth: &authGate{
			policy: cfg.AuthPolicy,
			token:  cfg.AuthToken,
			grace:  cfg.AuthFailureGrace,
			log:    cfg.Logger.With().Str("component", "auth").Logger(),
		},
	}

	s.heartbeat = &heartbeatMonitor{
		interval:   cfg.HeartbeatInterval,
		multiplier: cfg.HeartbeatTimeoutMultiplier,
		log:        cfg.Logger.With().Str("component", "heartbeat").Logger(),
	}

	return s
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return albon.ErrServerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout.
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock.
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info().Str("addr", s.cfg.Addr).Msg("server started")
		return nil
	}
}

// Stop gracefully shuts the server down: pending outbound requests fail
// with a shutdown error, the subscription and stream tables are cleared and
// every live connection gets a normal-closure frame before the listener is
// released.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.reqresp.Shutdown()

	for _, peer := range s.registry.Clear() {
		_ = peer.CloseWithCode(ctx, websocket.CloseNormalClosure, "server shutting down")
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleWebSocket accepts one upgrade request and hands the connection to
// its read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Failed to upgrade connection", http.StatusBadRequest)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg.MaxPayloadSize, s.cfg.RateLimit)

	if s.cfg.AuthPolicy == albon.AuthDisabled {
		client.setAuthenticated(true)
	}

	if err := s.registry.Register(client); err != nil {
		// Capacity is the only condition under which a connection is
		// refused outright.
		s.log.Warn().Str("remote_addr", r.RemoteAddr).Int("count", s.registry.Count()).Msg("connection refused, at capacity")
		// Write the error frame on the connection directly so it is on the
		// wire before the close handshake; queueing it behind the write pump
		// would race the close. No other writer exists for a refused client.
		if data, err := protocol.Encode(protocol.ProtocolError("", albon.ErrMsgCapacity), s.cfg.MaxPayloadSize); err == nil {
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = client.CloseWithCode(context.Background(), websocket.CloseTryAgainLater, albon.ErrMsgCapacity)
		return
	}

	s.log.Info().Str("client_id", client.ID()).Str("remote_addr", r.RemoteAddr).Msg("client connected")

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(client)
	}

	go s.heartbeat.run(client)
	go s.handleClient(client)
}

// handleClient is the per-connection read loop. Messages from one
// connection are processed in the order received; handler execution that
// may block runs in its own goroutine from the dispatcher.
func (s *Server) handleClient(client *Client) {
	// True only when the client sent a close frame itself; server-initiated
	// closes and dropped connections are involuntary.
	var voluntary bool

	defer func() {
		topics, streams := s.registry.Remove(client.ID())
		s.log.Info().
			Str("client_id", client.ID()).
			Int("topics_removed", len(topics)).
			Int("streams_removed", len(streams)).
			Int64("messages", client.MessageCount()).
			Msg("client disconnected")

		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(client, voluntary)
		}
		client.Close(context.Background())
	}()

	readWait := s.readDeadline()
	// Frames slightly over the payload limit still get a typed error reply
	// from the dispatcher; grossly oversized ones are cut at the transport.
	client.conn.SetReadLimit(int64(s.cfg.MaxPayloadSize) + 1024)
	client.conn.SetReadDeadline(time.Now().Add(readWait))
	client.conn.SetPongHandler(func(string) error {
		client.Touch()
		client.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		select {
		case <-client.Context().Done():
			return
		default:
			msgType, data, err := client.conn.ReadMessage()
			if err != nil {
				voluntary = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.log.Debug().Err(err).Str("client_id", client.ID()).Msg("read error")
				}
				return
			}

			client.conn.SetReadDeadline(time.Now().Add(readWait))

			if !client.checkRateLimit() {
				s.log.Warn().Str("client_id", client.ID()).Str("remote_addr", client.RemoteAddr()).Msg("rate limit exceeded")
				client.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}

			switch msgType {
			case websocket.TextMessage:
				s.dispatch(client, data)
			case websocket.BinaryMessage:
				s.handleBinary(client, data)
			}
		}
	}
}

// readDeadline derives the transport read deadline from the heartbeat
// settings so the monitor, not the socket, decides liveness.
func (s *Server) readDeadline() time.Duration {
	if s.cfg.HeartbeatInterval > 0 {
		return s.cfg.HeartbeatInterval*time.Duration(s.cfg.HeartbeatTimeoutMultiplier) + 5*time.Second
	}
	return 60 * time.Second
}

// handleBinary routes one raw binary frame. Binary payloads are tagged
// separately from structured traffic and bypass the pattern engines.
func (s *Server) handleBinary(client *Client, data []byte) {
	client.Touch()
	client.countMessage()

	if !s.cfg.EnableBinary || s.cfg.OnBinary == nil {
		s.sendError(client, "", albon.ErrMsgBinaryDisabled)
		return
	}
	if !client.IsAuthenticated() {
		s.sendError(client, "", albon.ErrMsgAuthRequired)
		return
	}

	go s.cfg.OnBinary(client, data)
}

// --- albon.Server surface -------------------------------------------------

func (s *Server) RegisterEndpoint(name string, handler albon.EndpointHandler) {
	s.reqresp.RegisterEndpoint(name, handler)
}

func (s *Server) UnregisterEndpoint(name string) {
	s.reqresp.UnregisterEndpoint(name)
}

func (s *Server) RegisterRPC(method string, handler albon.RPCHandler) {
	s.rpc.Register(method, handler)
}

func (s *Server) UnregisterRPC(method string) {
	s.rpc.Unregister(method)
}

func (s *Server) SendRequest(ctx context.Context, clientID, endpoint string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if !s.cfg.EnableRequestResponse {
		return nil, albon.ErrPatternDisabled
	}
	return s.reqresp.SendRequest(ctx, clientID, endpoint, payload, timeout)
}

func (s *Server) Publish(ctx context.Context, topic string, payload any, excludeClientID string) (int, error) {
	if !s.cfg.EnablePubSub {
		return 0, albon.ErrPatternDisabled
	}

	data, err := protocol.MarshalPayload(payload)
	if err != nil {
		return 0, err
	}
	return s.pubsub.Publish(ctx, topic, data, excludeClientID), nil
}

func (s *Server) StartStream(ctx context.Context, clientID, streamID, kind string) error {
	if !s.cfg.EnableStreaming {
		return albon.ErrPatternDisabled
	}
	return s.streaming.Start(ctx, clientID, streamID, kind)
}

func (s *Server) SendStreamData(ctx context.Context, streamID string, chunk any, seq int64) error {
	if !s.cfg.EnableStreaming {
		return albon.ErrPatternDisabled
	}
	return s.streaming.SendData(ctx, streamID, chunk, seq)
}

func (s *Server) EndStream(ctx context.Context, streamID string) error {
	if !s.cfg.EnableStreaming {
		return albon.ErrPatternDisabled
	}
	return s.streaming.End(ctx, streamID)
}

func (s *Server) Ingest(ctx context.Context, source, category string, payload map[string]any) (string, error) {
	return s.ingest.Submit(ctx, source, albon.ClientTypeService, category, payload)
}

func (s *Server) Client(id string) (albon.Client, bool) {
	peer, ok := s.registry.Lookup(id)
	if !ok {
		return nil, false
	}
	client, ok := peer.(*Client)
	return client, ok
}

func (s *Server) Clients() []albon.Client {
	peers := s.registry.Peers()
	out := make([]albon.Client, 0, len(peers))
	for _, p := range peers {
		if c, ok := p.(*Client); ok {
			out = append(out, c)
		}
	}
	return out
}
