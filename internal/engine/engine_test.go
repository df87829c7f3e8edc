package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/registry"
)

// fakeCaller implements Caller and registry.Peer for engine tests, recording
// every envelope sent to it.
type fakeCaller struct {
	id      string
	ctype   string
	sendErr error
	onSend  func(*protocol.Message)

	mu   sync.Mutex
	sent []*protocol.Message
}

func newFakeCaller(id string) *fakeCaller {
	return &fakeCaller{id: id, ctype: "application"}
}

func (f *fakeCaller) ID() string             { return f.id }
func (f *fakeCaller) RemoteAddr() string     { return "127.0.0.1:1234" }
func (f *fakeCaller) ClientType() string     { return f.ctype }
func (f *fakeCaller) Capabilities() []string { return nil }
func (f *fakeCaller) IsAuthenticated() bool  { return true }
func (f *fakeCaller) Context() context.Context {
	return context.Background()
}
func (f *fakeCaller) IsAlive() bool                   { return true }
func (f *fakeCaller) Close(ctx context.Context) error { return nil }
func (f *fakeCaller) CloseWithCode(ctx context.Context, code int, reason string) error {
	return nil
}

func (f *fakeCaller) Send(ctx context.Context, msg *protocol.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}

	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(msg)
	}
	return nil
}

func (f *fakeCaller) sentMessages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeCaller) lastSent() *protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newTestRegistry(peers ...*fakeCaller) *registry.Registry {
	reg := registry.New(0)
	for _, p := range peers {
		_ = reg.Register(p)
	}
	return reg
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
