package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []recordedChunk
}

type recordedChunk struct {
	streamID string
	kind     string
	seq      int64
	payload  string
}

func (r *chunkRecorder) handler() albon.StreamChunkHandler {
	return func(caller albon.Client, streamID, kind string, seq int64, chunk json.RawMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.chunks = append(r.chunks, recordedChunk{streamID: streamID, kind: kind, seq: seq, payload: string(chunk)})
	}
}

func (r *chunkRecorder) all() []recordedChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedChunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// TestClientStreamLifecycle tests start, chunks and end driven by a client
func TestClientStreamLifecycle(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	reg := newTestRegistry(caller)
	rec := &chunkRecorder{}
	e := NewStreaming(reg, rec.handler(), testLogger())
	ctx := context.Background()

	e.HandleStart(ctx, caller, &protocol.Message{Type: protocol.TypeStreamStart, ID: "m1", StreamID: "s1", StreamKind: "firmware"})
	ack := caller.lastSent()
	if ack.Success == nil || !*ack.Success || ack.StreamID != "s1" {
		t.Fatalf("start ack = %+v", ack)
	}

	for seq := int64(0); seq < 3; seq++ {
		s := seq
		e.HandleData(ctx, caller, &protocol.Message{
			Type: protocol.TypeStreamData, StreamID: "s1", Sequence: &s,
			Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, s)),
		})
	}

	chunks := rec.all()
	if len(chunks) != 3 {
		t.Fatalf("received %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.streamID != "s1" || c.kind != "firmware" || c.seq != int64(i) {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}

	e.HandleEnd(ctx, caller, &protocol.Message{Type: protocol.TypeStreamEnd, ID: "m2", StreamID: "s1"})
	ack = caller.lastSent()
	if ack.Success == nil || !*ack.Success {
		t.Fatalf("end ack = %+v", ack)
	}
	if got := reg.Streams(); len(got) != 0 {
		t.Errorf("streams after end = %v, want empty", got)
	}
}

// TestHandleStartDuplicate tests that reusing an active stream id is refused
func TestHandleStartDuplicate(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	e := NewStreaming(newTestRegistry(caller), nil, testLogger())
	ctx := context.Background()

	e.HandleStart(ctx, caller, &protocol.Message{Type: protocol.TypeStreamStart, StreamID: "s1"})
	e.HandleStart(ctx, caller, &protocol.Message{Type: protocol.TypeStreamStart, StreamID: "s1"})

	ack := caller.lastSent()
	if ack.Success == nil || *ack.Success {
		t.Fatalf("duplicate start ack = %+v, want failure", ack)
	}
}

// TestHandleDataUnknownStream tests that an orphan chunk is answered, not dropped
func TestHandleDataUnknownStream(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	rec := &chunkRecorder{}
	e := NewStreaming(newTestRegistry(caller), rec.handler(), testLogger())

	e.HandleData(context.Background(), caller, &protocol.Message{Type: protocol.TypeStreamData, StreamID: "ghost"})

	ack := caller.lastSent()
	if ack == nil || ack.Success == nil || *ack.Success {
		t.Fatalf("orphan chunk ack = %+v, want failure", ack)
	}
	if len(rec.all()) != 0 {
		t.Error("chunk handler called for unknown stream")
	}
}

// TestHandleEndUnknownStream tests the failure ack for ending a missing session
func TestHandleEndUnknownStream(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	e := NewStreaming(newTestRegistry(caller), nil, testLogger())

	e.HandleEnd(context.Background(), caller, &protocol.Message{Type: protocol.TypeStreamEnd, StreamID: "ghost"})

	ack := caller.lastSent()
	if ack == nil || ack.Success == nil || *ack.Success {
		t.Fatalf("end ack = %+v, want failure", ack)
	}
}

// TestHandleDataNotOwner tests that a chunk from a non-owning connection is refused
func TestHandleDataNotOwner(t *testing.T) {
	t.Parallel()

	owner := newFakeCaller("c1")
	intruder := newFakeCaller("c2")
	rec := &chunkRecorder{}
	e := NewStreaming(newTestRegistry(owner, intruder), rec.handler(), testLogger())
	ctx := context.Background()

	e.HandleStart(ctx, owner, &protocol.Message{Type: protocol.TypeStreamStart, StreamID: "s1", StreamKind: "logs"})

	seq := int64(0)
	e.HandleData(ctx, intruder, &protocol.Message{
		Type: protocol.TypeStreamData, StreamID: "s1", Sequence: &seq,
		Payload: json.RawMessage(`{"n":0}`),
	})

	ack := intruder.lastSent()
	if ack == nil || ack.Success == nil || *ack.Success {
		t.Fatalf("foreign chunk ack = %+v, want failure", ack)
	}
	if ack.Error != albon.ErrNotStreamOwner.Error() {
		t.Errorf("foreign chunk ack error = %q, want %q", ack.Error, albon.ErrNotStreamOwner)
	}
	if len(rec.all()) != 0 {
		t.Error("chunk handler called for a non-owner chunk")
	}
}

// TestHandleEndNotOwner tests that only the owning connection can end a session
func TestHandleEndNotOwner(t *testing.T) {
	t.Parallel()

	owner := newFakeCaller("c1")
	intruder := newFakeCaller("c2")
	reg := newTestRegistry(owner, intruder)
	e := NewStreaming(reg, nil, testLogger())
	ctx := context.Background()

	e.HandleStart(ctx, owner, &protocol.Message{Type: protocol.TypeStreamStart, StreamID: "s1"})

	e.HandleEnd(ctx, intruder, &protocol.Message{Type: protocol.TypeStreamEnd, StreamID: "s1"})
	ack := intruder.lastSent()
	if ack == nil || ack.Success == nil || *ack.Success {
		t.Fatalf("foreign end ack = %+v, want failure", ack)
	}
	if ack.Error != albon.ErrNotStreamOwner.Error() {
		t.Errorf("foreign end ack error = %q, want %q", ack.Error, albon.ErrNotStreamOwner)
	}
	if got := reg.Streams(); len(got) != 1 {
		t.Fatalf("streams after foreign end = %v, want s1 still active", got)
	}

	e.HandleEnd(ctx, owner, &protocol.Message{Type: protocol.TypeStreamEnd, StreamID: "s1"})
	if ack := owner.lastSent(); ack.Success == nil || !*ack.Success {
		t.Fatalf("owner end ack = %+v, want success", ack)
	}
}

// TestServerStream tests the server-initiated session toward a client
func TestServerStream(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	reg := newTestRegistry(caller)
	e := NewStreaming(reg, nil, testLogger())
	ctx := context.Background()

	if err := e.Start(ctx, "c1", "s1", "logs"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := caller.lastSent(); got.Type != protocol.TypeStreamStart || got.StreamID != "s1" || got.StreamKind != "logs" {
		t.Errorf("start notification = %+v", got)
	}

	if err := e.Start(ctx, "c1", "s1", "logs"); !errors.Is(err, albon.ErrDuplicateStream) {
		t.Fatalf("duplicate Start() error = %v, want ErrDuplicateStream", err)
	}
	if err := e.Start(ctx, "ghost", "s2", "logs"); !errors.Is(err, albon.ErrClientNotFound) {
		t.Fatalf("Start(ghost) error = %v, want ErrClientNotFound", err)
	}

	if err := e.SendData(ctx, "s1", map[string]string{"line": "boot ok"}, 0); err != nil {
		t.Fatalf("SendData() error = %v", err)
	}
	got := caller.lastSent()
	if got.Type != protocol.TypeStreamData || got.Sequence == nil || *got.Sequence != 0 {
		t.Errorf("data frame = %+v", got)
	}

	// seq < 0 means no sequence hint on the wire.
	if err := e.SendData(ctx, "s1", "tail", -1); err != nil {
		t.Fatalf("SendData() error = %v", err)
	}
	if got := caller.lastSent(); got.Sequence != nil {
		t.Errorf("unsequenced frame carries seq %d", *got.Sequence)
	}

	if err := e.End(ctx, "s1"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := caller.lastSent(); got.Type != protocol.TypeStreamEnd {
		t.Errorf("end notification = %+v", got)
	}

	if err := e.SendData(ctx, "s1", "late", 1); !errors.Is(err, albon.ErrStreamNotFound) {
		t.Fatalf("SendData() after End error = %v, want ErrStreamNotFound", err)
	}
}

// TestStreamTeardownOnDisconnect tests that owner removal kills the session
func TestStreamTeardownOnDisconnect(t *testing.T) {
	t.Parallel()

	caller := newFakeCaller("c1")
	reg := newTestRegistry(caller)
	e := NewStreaming(reg, nil, testLogger())
	ctx := context.Background()

	if err := e.Start(ctx, "c1", "s1", "logs"); err != nil {
		t.Fatal(err)
	}

	_, streams := reg.Remove("c1")
	if len(streams) != 1 || streams[0].ID != "s1" {
		t.Fatalf("Remove() streams = %v, want [s1]", streams)
	}

	if err := e.SendData(ctx, "s1", "late", 0); !errors.Is(err, albon.ErrStreamNotFound) {
		t.Fatalf("SendData() after disconnect error = %v, want ErrStreamNotFound", err)
	}
}
