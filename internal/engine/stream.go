package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/registry"
)

// Streaming manages named chunk sessions. A session is created by a start
// message (or a server-side Start call), owned by exactly one connection and
// destroyed by an end message or by owner teardown.
type Streaming struct {
	reg     *registry.Registry
	onChunk albon.StreamChunkHandler
	log     zerolog.Logger
}

func NewStreaming(reg *registry.Registry, onChunk albon.StreamChunkHandler, log zerolog.Logger) *Streaming {
	return &Streaming{
		reg:     reg,
		onChunk: onChunk,
		log:     log.With().Str("component", "streaming").Logger(),
	}
}

// Start opens a server-initiated session toward the given client and
// notifies it. Reusing an active stream id is an error.
func (e *Streaming) Start(ctx context.Context, clientID, streamID, kind string) error {
	peer, ok := e.reg.Lookup(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", albon.ErrClientNotFound, clientID)
	}

	if err := e.reg.CreateStream(streamID, clientID, kind); err != nil {
		return err
	}

	msg := &protocol.Message{Type: protocol.TypeStreamStart, StreamID: streamID, StreamKind: kind}
	if err := peer.Send(ctx, msg); err != nil {
		e.reg.RemoveStream(streamID)
		return fmt.Errorf("start stream: %w", err)
	}
	return nil
}

// SendData forwards a chunk to the session's owning connection. seq < 0
// means the chunk carries no sequence hint.
func (e *Streaming) SendData(ctx context.Context, streamID string, chunk any, seq int64) error {
	peer, _, err := e.reg.StreamOwner(streamID)
	if err != nil {
		return err
	}

	payload, err := protocol.MarshalPayload(chunk)
	if err != nil {
		return err
	}

	msg := &protocol.Message{Type: protocol.TypeStreamData, StreamID: streamID, Payload: payload}
	if seq >= 0 {
		msg.Sequence = &seq
		e.reg.TouchStream(streamID, seq)
	}

	if err := peer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send stream data: %w", err)
	}
	return nil
}

// End notifies the owning connection and removes the session.
func (e *Streaming) End(ctx context.Context, streamID string) error {
	peer, _, err := e.reg.StreamOwner(streamID)
	if err != nil {
		if st, ok := e.reg.RemoveStream(streamID); ok {
			e.log.Debug().Str("stream_id", st.ID).Msg("removed stream with no live owner")
		}
		return err
	}

	e.reg.RemoveStream(streamID)

	msg := &protocol.Message{Type: protocol.TypeStreamEnd, StreamID: streamID}
	if err := peer.Send(ctx, msg); err != nil {
		return fmt.Errorf("end stream: %w", err)
	}
	return nil
}

// HandleStart serves a client-initiated stream start. The session is owned
// by the caller; a duplicate id is answered with a failure ack.
func (e *Streaming) HandleStart(ctx context.Context, caller Caller, msg *protocol.Message) {
	if msg.StreamID == "" {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypeStreamStart, msg.ID, "missing stream id"))
		return
	}

	if err := e.reg.CreateStream(msg.StreamID, caller.ID(), msg.StreamKind); err != nil {
		e.ack(ctx, caller, e.streamAck(protocol.ErrAck(protocol.TypeStreamStart, msg.ID, err.Error()), msg.StreamID))
		return
	}

	e.log.Debug().Str("stream_id", msg.StreamID).Str("kind", msg.StreamKind).Str("client_id", caller.ID()).Msg("stream started")
	e.ack(ctx, caller, e.streamAck(protocol.Ack(protocol.TypeStreamStart, msg.ID, nil), msg.StreamID))
}

// HandleData processes one inbound chunk for a session the caller owns. A
// chunk for an unknown session, or for a session owned by another
// connection, is reported back as a failure, not dropped.
func (e *Streaming) HandleData(ctx context.Context, caller Caller, msg *protocol.Message) {
	_, st, err := e.reg.StreamOwner(msg.StreamID)
	if err != nil {
		e.ack(ctx, caller, e.streamAck(protocol.ErrAck(protocol.TypeStreamData, msg.ID, albon.ErrStreamNotFound.Error()), msg.StreamID))
		return
	}
	if st.Owner != caller.ID() {
		e.ack(ctx, caller, e.streamAck(protocol.ErrAck(protocol.TypeStreamData, msg.ID, albon.ErrNotStreamOwner.Error()), msg.StreamID))
		return
	}

	seq := int64(-1)
	if msg.Sequence != nil {
		seq = *msg.Sequence
		e.reg.TouchStream(msg.StreamID, seq)
	}

	if e.onChunk != nil {
		e.onChunk(caller, msg.StreamID, st.Kind, seq, msg.Payload)
	}
}

// HandleEnd closes a client-initiated session. Only the owning connection
// may end it.
func (e *Streaming) HandleEnd(ctx context.Context, caller Caller, msg *protocol.Message) {
	_, st, err := e.reg.StreamOwner(msg.StreamID)
	if err != nil {
		e.ack(ctx, caller, e.streamAck(protocol.ErrAck(protocol.TypeStreamEnd, msg.ID, albon.ErrStreamNotFound.Error()), msg.StreamID))
		return
	}
	if st.Owner != caller.ID() {
		e.ack(ctx, caller, e.streamAck(protocol.ErrAck(protocol.TypeStreamEnd, msg.ID, albon.ErrNotStreamOwner.Error()), msg.StreamID))
		return
	}

	e.reg.RemoveStream(msg.StreamID)
	e.log.Debug().Str("stream_id", st.ID).Int64("last_seq", st.LastSeq).Msg("stream ended")
	e.ack(ctx, caller, e.streamAck(protocol.Ack(protocol.TypeStreamEnd, msg.ID, nil), msg.StreamID))
}

func (e *Streaming) streamAck(msg *protocol.Message, streamID string) *protocol.Message {
	msg.StreamID = streamID
	return msg
}

func (e *Streaming) ack(ctx context.Context, caller Caller, msg *protocol.Message) {
	if err := caller.Send(ctx, msg); err != nil {
		e.log.Debug().Err(err).Str("client_id", caller.ID()).Msg("failed to send stream ack")
	}
}
