// Package ws is the public entry point for constructing the realtime
// message server.
package ws

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/websocket"
)

type Config = websocket.Config
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn

// New creates a server from the configuration. Unset fields fall back to
// the defaults documented on Config.
//
// Example:
//
//	cfg := ws.DefaultConfig(":8080")
//	cfg.AuthPolicy = albon.AuthSharedToken
//	cfg.AuthToken = os.Getenv("ALBON_TOKEN")
//	server := ws.New(cfg)
//	server.Start(ctx)
func New(cfg *Config) albon.Server {
	return websocket.New(cfg)
}

// DefaultConfig returns a configuration with every pattern enabled, open
// authentication and conservative limits.
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:                       addr,
		AuthPolicy:                 albon.AuthDisabled,
		EnableValidation:           true,
		EnableRequestResponse:      true,
		EnablePubSub:               true,
		EnableRPC:                  true,
		EnableStreaming:            true,
		RequestTimeout:             30 * time.Second,
		HeartbeatInterval:          30 * time.Second,
		HeartbeatTimeoutMultiplier: 3,
		RateLimit:                  DefaultRateLimitConfig(),
		CheckOrigin:                AllOrigins(),
		Logger:                     zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// AllOrigins returns a checkOrigin function that allows all origins. Do
// not use in production.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
