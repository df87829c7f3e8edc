package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// heartbeatMonitor owns one liveness timer per connection. On each tick it
// sends a probe while the connection looks alive and force-closes it once
// the idle time exceeds interval * multiplier. Any inbound message counts
// as activity, so one message per interval never trips the timeout.
type heartbeatMonitor struct {
	interval   time.Duration
	multiplier int
	log        zerolog.Logger
}

// run blocks until the connection closes. The ticker is stopped
// deterministically on teardown; nothing leaks.
func (m *heartbeatMonitor) run(client *Client) {
	if m.interval <= 0 {
		return
	}

	timeout := m.interval * time.Duration(m.multiplier)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-client.Context().Done():
			return

		case <-ticker.C:
			idle := time.Since(client.LastActivity())
			if idle > timeout {
				m.log.Warn().
					Str("client_id", client.ID()).
					Dur("idle", idle).
					Msg("heartbeat timeout, closing connection")
				_ = client.CloseWithCode(context.Background(), websocket.CloseGoingAway, "heartbeat timeout")
				return
			}

			probe := &protocol.Message{Type: protocol.TypeHeartbeat}
			if err := client.Send(client.Context(), probe); err != nil {
				return
			}
			client.markHeartbeat()
		}
	}
}
