package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// authGate evaluates auth messages against the configured policy. Once a
// connection is authenticated it stays authenticated for its lifetime; a
// failed attempt is acknowledged and then force-closed after a short grace
// period so the failure message can flush.
type authGate struct {
	policy string
	token  string
	grace  time.Duration
	log    zerolog.Logger
}

func (g *authGate) handle(ctx context.Context, client *Client, msg *protocol.Message) {
	if g.policy == albon.AuthDisabled || client.IsAuthenticated() {
		g.ack(ctx, client, protocol.Ack(protocol.TypeAuth, msg.ID, nil))
		return
	}

	if g.token != "" && msg.Token == g.token {
		client.setAuthenticated(true)
		g.log.Info().Str("client_id", client.ID()).Msg("client authenticated")
		g.ack(ctx, client, protocol.Ack(protocol.TypeAuth, msg.ID, nil))
		return
	}

	g.log.Warn().Str("client_id", client.ID()).Str("remote_addr", client.RemoteAddr()).Msg("authentication failed")
	g.ack(ctx, client, protocol.ErrAck(protocol.TypeAuth, msg.ID, albon.ErrMsgAuthFailed))

	time.AfterFunc(g.grace, func() {
		_ = client.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, albon.ErrMsgAuthFailed)
	})
}

func (g *authGate) ack(ctx context.Context, client *Client, msg *protocol.Message) {
	if err := client.Send(ctx, msg); err != nil {
		g.log.Debug().Err(err).Str("client_id", client.ID()).Msg("failed to send auth ack")
	}
}
