package engine

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/registry"
)

// PubSub fans published payloads out to the current subscriber set of a
// topic.
type PubSub struct {
	reg *registry.Registry
	log zerolog.Logger
}

func NewPubSub(reg *registry.Registry, log zerolog.Logger) *PubSub {
	return &PubSub{
		reg: reg,
		log: log.With().Str("component", "pubsub").Logger(),
	}
}

// HandleSubscribe adds the caller to the topic's subscriber set and
// acknowledges.
func (e *PubSub) HandleSubscribe(ctx context.Context, caller Caller, msg *protocol.Message) {
	if msg.Topic == "" {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypeSubscribe, msg.ID, "missing topic"))
		return
	}

	if err := e.reg.Subscribe(caller.ID(), msg.Topic); err != nil {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypeSubscribe, msg.ID, err.Error()))
		return
	}

	ack := protocol.Ack(protocol.TypeSubscribe, msg.ID, nil)
	ack.Topic = msg.Topic
	e.ack(ctx, caller, ack)
}

// HandleUnsubscribe removes the caller from the topic's subscriber set and
// acknowledges.
func (e *PubSub) HandleUnsubscribe(ctx context.Context, caller Caller, msg *protocol.Message) {
	if msg.Topic == "" {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypeUnsubscribe, msg.ID, "missing topic"))
		return
	}

	e.reg.Unsubscribe(caller.ID(), msg.Topic)

	ack := protocol.Ack(protocol.TypeUnsubscribe, msg.ID, nil)
	ack.Topic = msg.Topic
	e.ack(ctx, caller, ack)
}

// HandlePublish fans the payload out to every subscriber except the
// publisher itself, then acknowledges with the recipient count.
func (e *PubSub) HandlePublish(ctx context.Context, caller Caller, msg *protocol.Message) {
	if msg.Topic == "" {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypePublish, msg.ID, "missing topic"))
		return
	}

	count := e.Publish(ctx, msg.Topic, msg.Payload, caller.ID())

	payload, err := protocol.MarshalPayload(map[string]int{"recipients": count})
	if err != nil {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypePublish, msg.ID, err.Error()))
		return
	}

	ack := protocol.Ack(protocol.TypePublish, msg.ID, payload)
	ack.Topic = msg.Topic
	e.ack(ctx, caller, ack)
}

// Publish delivers the payload to every current subscriber of the topic
// except exclude and returns the number of recipients. A subscriber
// disconnecting concurrently with the fan-out is skipped, never an error;
// a topic without subscribers is a legal no-op returning zero.
func (e *PubSub) Publish(ctx context.Context, topic string, payload json.RawMessage, exclude string) int {
	subs := e.reg.Subscribers(topic, exclude)
	if len(subs) == 0 {
		return 0
	}

	msg := &protocol.Message{Type: protocol.TypePublish, Topic: topic, Payload: payload}

	count := 0
	for _, peer := range subs {
		if err := peer.Send(ctx, msg); err != nil {
			e.log.Debug().Err(err).Str("client_id", peer.ID()).Str("topic", topic).Msg("skipping unreachable subscriber")
			continue
		}
		count++
	}
	return count
}

func (e *PubSub) ack(ctx context.Context, caller Caller, msg *protocol.Message) {
	if err := caller.Send(ctx, msg); err != nil {
		e.log.Debug().Err(err).Str("client_id", caller.ID()).Msg("failed to send ack")
	}
}
