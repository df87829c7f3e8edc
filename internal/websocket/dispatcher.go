package websocket

import (
	"context"
	"errors"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// dispatch decodes one inbound text frame, classifies its kind and routes
// it to the owning engine. This is the sole place authentication gating is
// enforced: under shared-token policy no application message other than
// handshake, auth and heartbeat gets past an unauthenticated connection.
//
// Registry mutations (subscriptions, streams, response correlation) run
// inline so messages from one connection keep their arrival order; handler
// execution and store calls that may block run in their own goroutine.
func (s *Server) dispatch(client *Client, data []byte) {
	ctx := client.Context()

	msg, err := protocol.Decode(data, s.cfg.MaxPayloadSize)
	if err != nil {
		// A malformed frame gets an explicit error reply; the
		// connection stays open.
		s.log.Debug().Err(err).Str("client_id", client.ID()).Msg("undecodable message")
		if errors.Is(err, protocol.ErrTooLarge) {
			s.sendError(client, "", albon.ErrMsgPayloadTooLarge)
		} else {
			s.sendError(client, "", albon.ErrMsgInvalidFormat)
		}
		return
	}

	client.Touch()
	client.countMessage()

	switch msg.Type {
	case protocol.TypeHandshake:
		s.handleHandshake(ctx, client, msg)
		return
	case protocol.TypeAuth:
		s.auth.handle(ctx, client, msg)
		return
	case protocol.TypeHeartbeat:
		// Liveness traffic, exempt from the auth gate.
		client.markHeartbeat()
		s.sendAck(client, protocol.Ack(protocol.TypeHeartbeat, msg.ID, nil))
		return
	}

	if !client.IsAuthenticated() {
		// Never silently dropped.
		s.sendError(client, msg.ID, albon.ErrMsgAuthRequired)
		return
	}

	switch msg.Type {
	case protocol.TypeData:
		go s.ingest.HandleData(ctx, client, msg)

	case protocol.TypeRequest:
		if !s.cfg.EnableRequestResponse {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		go s.reqresp.HandleRequest(ctx, client, msg)

	case protocol.TypeResponse:
		s.reqresp.HandleResponse(client.ID(), msg)

	case protocol.TypeSubscribe:
		if !s.cfg.EnablePubSub {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		s.pubsub.HandleSubscribe(ctx, client, msg)

	case protocol.TypeUnsubscribe:
		if !s.cfg.EnablePubSub {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		s.pubsub.HandleUnsubscribe(ctx, client, msg)

	case protocol.TypePublish:
		if !s.cfg.EnablePubSub {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		s.pubsub.HandlePublish(ctx, client, msg)

	case protocol.TypeRPC:
		if !s.cfg.EnableRPC {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		go s.rpc.HandleCall(ctx, client, msg)

	case protocol.TypeStreamStart:
		if !s.cfg.EnableStreaming {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		s.streaming.HandleStart(ctx, client, msg)

	case protocol.TypeStreamData:
		if !s.cfg.EnableStreaming {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		s.streaming.HandleData(ctx, client, msg)

	case protocol.TypeStreamEnd:
		if !s.cfg.EnableStreaming {
			s.sendError(client, msg.ID, albon.ErrMsgPatternDisabled)
			return
		}
		s.streaming.HandleEnd(ctx, client, msg)

	default:
		s.sendError(client, msg.ID, albon.ErrMsgUnknownType)
	}
}

// handleHandshake records the declared category and capability set and
// replies with the assigned connection id.
func (s *Server) handleHandshake(ctx context.Context, client *Client, msg *protocol.Message) {
	client.setIdentity(msg.ClientType, msg.Capabilities)

	payload, err := protocol.MarshalPayload(map[string]any{
		"connectionId": client.ID(),
		"authRequired": s.cfg.AuthPolicy == albon.AuthSharedToken && !client.IsAuthenticated(),
	})
	if err != nil {
		s.sendError(client, msg.ID, err.Error())
		return
	}

	welcome := &protocol.Message{Type: protocol.TypeWelcome, ID: msg.ID, Payload: payload}
	if err := client.Send(ctx, welcome); err != nil {
		s.log.Debug().Err(err).Str("client_id", client.ID()).Msg("failed to send welcome")
	}

	s.log.Debug().
		Str("client_id", client.ID()).
		Str("client_type", client.ClientType()).
		Strs("capabilities", msg.Capabilities).
		Msg("handshake completed")
}

func (s *Server) sendAck(client *Client, msg *protocol.Message) {
	if err := client.Send(client.Context(), msg); err != nil {
		s.log.Debug().Err(err).Str("client_id", client.ID()).Msg("failed to send ack")
	}
}

func (s *Server) sendError(client *Client, id, errMsg string) {
	if err := client.Send(client.Context(), protocol.ProtocolError(id, errMsg)); err != nil {
		s.log.Debug().Err(err).Str("client_id", client.ID()).Msg("failed to send error reply")
	}
}
