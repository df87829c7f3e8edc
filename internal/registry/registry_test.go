package registry

import (
	"context"
	"errors"
	"sort"
	"testing"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

type fakePeer struct {
	id string
}

func (f *fakePeer) ID() string         { return f.id }
func (f *fakePeer) RemoteAddr() string { return "127.0.0.1:1234" }
func (f *fakePeer) Send(ctx context.Context, msg *protocol.Message) error {
	return nil
}
func (f *fakePeer) CloseWithCode(ctx context.Context, code int, reason string) error {
	return nil
}

// TestRegisterCapacity tests that the connection limit refuses the overflow peer
func TestRegisterCapacity(t *testing.T) {
	t.Parallel()

	r := New(2)

	if err := r.Register(&fakePeer{id: "a"}); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	if err := r.Register(&fakePeer{id: "b"}); err != nil {
		t.Fatalf("Register(b) error = %v", err)
	}
	if err := r.Register(&fakePeer{id: "c"}); !errors.Is(err, albon.ErrCapacityExceeded) {
		t.Fatalf("Register(c) error = %v, want ErrCapacityExceeded", err)
	}

	// Removing one frees a slot.
	r.Remove("a")
	if err := r.Register(&fakePeer{id: "c"}); err != nil {
		t.Fatalf("Register(c) after Remove error = %v", err)
	}
}

// TestRegisterUnlimited tests that maxConnections <= 0 disables the limit
func TestRegisterUnlimited(t *testing.T) {
	t.Parallel()

	r := New(0)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := r.Register(&fakePeer{id: id}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}
	if r.Count() != 4 {
		t.Errorf("Count() = %d, want 4", r.Count())
	}
}

// TestRemoveCascade tests that removing a peer cleans its subscriptions and streams
func TestRemoveCascade(t *testing.T) {
	t.Parallel()

	r := New(0)
	if err := r.Register(&fakePeer{id: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakePeer{id: "b"}); err != nil {
		t.Fatal(err)
	}

	for _, topic := range []string{"alerts", "telemetry"} {
		if err := r.Subscribe("a", topic); err != nil {
			t.Fatalf("Subscribe(a, %s) error = %v", topic, err)
		}
	}
	if err := r.Subscribe("b", "alerts"); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateStream("s1", "a", "firmware"); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateStream("s2", "b", "logs"); err != nil {
		t.Fatal(err)
	}

	topics, streams := r.Remove("a")

	sort.Strings(topics)
	if len(topics) != 2 || topics[0] != "alerts" || topics[1] != "telemetry" {
		t.Errorf("Remove() topics = %v, want [alerts telemetry]", topics)
	}
	if len(streams) != 1 || streams[0].ID != "s1" {
		t.Errorf("Remove() streams = %v, want [s1]", streams)
	}

	// b's state survives.
	if got := r.Subscribers("alerts", ""); len(got) != 1 || got[0].ID() != "b" {
		t.Errorf("Subscribers(alerts) = %v, want [b]", got)
	}
	if _, _, err := r.StreamOwner("s2"); err != nil {
		t.Errorf("StreamOwner(s2) error = %v", err)
	}
	if _, _, err := r.StreamOwner("s1"); !errors.Is(err, albon.ErrStreamNotFound) {
		t.Errorf("StreamOwner(s1) error = %v, want ErrStreamNotFound", err)
	}

	// The telemetry topic lost its last subscriber and must be gone.
	if got := r.Subscribers("telemetry", ""); got != nil {
		t.Errorf("Subscribers(telemetry) = %v, want nil", got)
	}

	// Removing an unknown id is a no-op.
	topics, streams = r.Remove("a")
	if topics != nil || streams != nil {
		t.Errorf("second Remove() = %v, %v, want nil, nil", topics, streams)
	}
}

// TestSubscribe tests subscription bookkeeping including the unknown-peer case
func TestSubscribe(t *testing.T) {
	t.Parallel()

	r := New(0)
	if err := r.Register(&fakePeer{id: "a"}); err != nil {
		t.Fatal(err)
	}

	if err := r.Subscribe("ghost", "alerts"); !errors.Is(err, albon.ErrClientNotFound) {
		t.Fatalf("Subscribe(ghost) error = %v, want ErrClientNotFound", err)
	}

	// Subscribing twice is a no-op.
	if err := r.Subscribe("a", "alerts"); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe("a", "alerts"); err != nil {
		t.Fatal(err)
	}
	if got := r.Subscribers("alerts", ""); len(got) != 1 {
		t.Errorf("Subscribers(alerts) = %d peers, want 1", len(got))
	}

	if got := r.Topics("a"); len(got) != 1 || got[0] != "alerts" {
		t.Errorf("Topics(a) = %v, want [alerts]", got)
	}
}

// TestUnsubscribeDropsEmptyTopic tests that the last unsubscribe removes the topic entry
func TestUnsubscribeDropsEmptyTopic(t *testing.T) {
	t.Parallel()

	r := New(0)
	if err := r.Register(&fakePeer{id: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe("a", "alerts"); err != nil {
		t.Fatal(err)
	}

	r.Unsubscribe("a", "alerts")

	if got := r.Subscribers("alerts", ""); got != nil {
		t.Errorf("Subscribers(alerts) = %v, want nil", got)
	}
	if got := r.Topics("a"); len(got) != 0 {
		t.Errorf("Topics(a) = %v, want empty", got)
	}

	// Unsubscribing from an unknown topic is a no-op.
	r.Unsubscribe("a", "nope")
}

// TestSubscribersExclude tests that the fan-out snapshot honors the exclusion
func TestSubscribersExclude(t *testing.T) {
	t.Parallel()

	r := New(0)
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Register(&fakePeer{id: id}); err != nil {
			t.Fatal(err)
		}
		if err := r.Subscribe(id, "alerts"); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Subscribers("alerts", "b")
	if len(got) != 2 {
		t.Fatalf("Subscribers(alerts, b) = %d peers, want 2", len(got))
	}
	for _, p := range got {
		if p.ID() == "b" {
			t.Error("excluded peer present in snapshot")
		}
	}
}

// TestCreateStream tests stream creation including the duplicate-id case
func TestCreateStream(t *testing.T) {
	t.Parallel()

	r := New(0)
	if err := r.Register(&fakePeer{id: "a"}); err != nil {
		t.Fatal(err)
	}

	if err := r.CreateStream("s1", "ghost", "logs"); !errors.Is(err, albon.ErrClientNotFound) {
		t.Fatalf("CreateStream(ghost) error = %v, want ErrClientNotFound", err)
	}
	if err := r.CreateStream("s1", "a", "logs"); err != nil {
		t.Fatalf("CreateStream(s1) error = %v", err)
	}
	if err := r.CreateStream("s1", "a", "logs"); !errors.Is(err, albon.ErrDuplicateStream) {
		t.Fatalf("duplicate CreateStream(s1) error = %v, want ErrDuplicateStream", err)
	}

	peer, st, err := r.StreamOwner("s1")
	if err != nil {
		t.Fatalf("StreamOwner(s1) error = %v", err)
	}
	if peer.ID() != "a" || st.Kind != "logs" || st.LastSeq != -1 {
		t.Errorf("StreamOwner(s1) = %s, %+v", peer.ID(), st)
	}

	r.TouchStream("s1", 7)
	if _, st, _ := r.StreamOwner("s1"); st.LastSeq != 7 {
		t.Errorf("LastSeq = %d, want 7", st.LastSeq)
	}

	// A negative sequence never rolls the hint back.
	r.TouchStream("s1", -1)
	if _, st, _ := r.StreamOwner("s1"); st.LastSeq != 7 {
		t.Errorf("LastSeq after negative touch = %d, want 7", st.LastSeq)
	}

	if st, ok := r.RemoveStream("s1"); !ok || st.ID != "s1" {
		t.Errorf("RemoveStream(s1) = %+v, %v", st, ok)
	}
	if _, ok := r.RemoveStream("s1"); ok {
		t.Error("second RemoveStream(s1) reported ok")
	}
}

// TestClear tests the shutdown sweep empties every table
func TestClear(t *testing.T) {
	t.Parallel()

	r := New(0)
	for _, id := range []string{"a", "b"} {
		if err := r.Register(&fakePeer{id: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Subscribe("a", "alerts"); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateStream("s1", "b", "logs"); err != nil {
		t.Fatal(err)
	}

	peers := r.Clear()
	if len(peers) != 2 {
		t.Fatalf("Clear() = %d peers, want 2", len(peers))
	}
	if r.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", r.Count())
	}
	if got := r.Subscribers("alerts", ""); got != nil {
		t.Errorf("Subscribers after Clear = %v, want nil", got)
	}
	if got := r.Streams(); len(got) != 0 {
		t.Errorf("Streams after Clear = %v, want empty", got)
	}
}
