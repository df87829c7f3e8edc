package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// TestHandleSubscribePublish tests the subscribe, publish and fan-out path
func TestHandleSubscribePublish(t *testing.T) {
	t.Parallel()

	publisher := newFakeCaller("pub")
	subA := newFakeCaller("sub-a")
	subB := newFakeCaller("sub-b")
	reg := newTestRegistry(publisher, subA, subB)
	e := NewPubSub(reg, testLogger())

	ctx := context.Background()
	for _, c := range []*fakeCaller{publisher, subA, subB} {
		e.HandleSubscribe(ctx, c, &protocol.Message{Type: protocol.TypeSubscribe, ID: "s1", Topic: "alerts"})
		ack := c.lastSent()
		if ack == nil || ack.Success == nil || !*ack.Success || ack.Topic != "alerts" {
			t.Fatalf("subscribe ack for %s = %+v", c.ID(), ack)
		}
	}

	e.HandlePublish(ctx, publisher, &protocol.Message{
		Type: protocol.TypePublish, ID: "p1", Topic: "alerts",
		Payload: json.RawMessage(`{"level":"high"}`),
	})

	// The publisher gets only the ack, never its own message back.
	ack := publisher.lastSent()
	if ack.Type != protocol.TypeAck || ack.Ref != protocol.TypePublish {
		t.Fatalf("publish ack = %+v", ack)
	}
	var counts map[string]int
	if err := json.Unmarshal(ack.Payload, &counts); err != nil {
		t.Fatalf("unmarshal ack payload: %v", err)
	}
	if counts["recipients"] != 2 {
		t.Errorf("recipients = %d, want 2", counts["recipients"])
	}

	for _, sub := range []*fakeCaller{subA, subB} {
		got := sub.lastSent()
		if got.Type != protocol.TypePublish || got.Topic != "alerts" {
			t.Errorf("%s received %+v", sub.ID(), got)
		}
		if string(got.Payload) != `{"level":"high"}` {
			t.Errorf("%s payload = %s", sub.ID(), got.Payload)
		}
	}
}

// TestHandleSubscribeMissingTopic tests the failure ack for a topic-less subscribe
func TestHandleSubscribeMissingTopic(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	e := NewPubSub(newTestRegistry(caller), testLogger())

	e.HandleSubscribe(context.Background(), caller, &protocol.Message{Type: protocol.TypeSubscribe, ID: "s1"})

	ack := caller.lastSent()
	if ack == nil || ack.Success == nil || *ack.Success {
		t.Fatalf("expected failure ack, got %+v", ack)
	}
}

// TestHandleUnsubscribe tests that an unsubscribed peer stops receiving
func TestHandleUnsubscribe(t *testing.T) {
	t.Parallel()

	sub := newFakeCaller("sub")
	reg := newTestRegistry(sub)
	e := NewPubSub(reg, testLogger())
	ctx := context.Background()

	e.HandleSubscribe(ctx, sub, &protocol.Message{Type: protocol.TypeSubscribe, Topic: "alerts"})
	e.HandleUnsubscribe(ctx, sub, &protocol.Message{Type: protocol.TypeUnsubscribe, Topic: "alerts"})

	before := len(sub.sentMessages())
	if n := e.Publish(ctx, "alerts", json.RawMessage(`{}`), ""); n != 0 {
		t.Errorf("Publish() after unsubscribe = %d recipients, want 0", n)
	}
	if after := len(sub.sentMessages()); after != before {
		t.Errorf("unsubscribed peer received a message")
	}

	// Unsubscribing from a topic never subscribed to still acknowledges.
	e.HandleUnsubscribe(ctx, sub, &protocol.Message{Type: protocol.TypeUnsubscribe, Topic: "other"})
	ack := sub.lastSent()
	if ack.Success == nil || !*ack.Success {
		t.Errorf("unsubscribe ack = %+v, want success", ack)
	}
}

// TestPublishNoSubscribers tests that an empty topic is a legal zero-recipient no-op
func TestPublishNoSubscribers(t *testing.T) {
	t.Parallel()

	e := NewPubSub(newTestRegistry(), testLogger())

	if n := e.Publish(context.Background(), "empty", json.RawMessage(`{}`), ""); n != 0 {
		t.Errorf("Publish() = %d, want 0", n)
	}
}

// TestPublishSkipsUnreachable tests that a failing subscriber does not break the fan-out
func TestPublishSkipsUnreachable(t *testing.T) {
	t.Parallel()

	healthy := newFakeCaller("healthy")
	broken := newFakeCaller("broken")
	broken.sendErr = errors.New("connection closed")
	reg := newTestRegistry(healthy, broken)
	e := NewPubSub(reg, testLogger())
	ctx := context.Background()

	e.HandleSubscribe(ctx, healthy, &protocol.Message{Type: protocol.TypeSubscribe, Topic: "alerts"})
	if err := reg.Subscribe("broken", "alerts"); err != nil {
		t.Fatal(err)
	}

	if n := e.Publish(ctx, "alerts", json.RawMessage(`{}`), ""); n != 1 {
		t.Errorf("Publish() = %d recipients, want 1", n)
	}
}
