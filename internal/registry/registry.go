// Package registry owns the bookkeeping shared by the pattern engines: the
// set of live connections, the topic subscription index and the stream
// session table. It performs no I/O; a single lock guards all three
// structures so connection teardown cascades atomically with respect to
// concurrent publishes and stream sends.
package registry

import (
	"context"
	"sync"
	"time"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// Peer is the transport-side surface the registry and engines are allowed
// to touch. The WebSocket client implements it; engines never see sockets.
type Peer interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, msg *protocol.Message) error
	CloseWithCode(ctx context.Context, code int, reason string) error
}

// Stream is one active streaming session.
type Stream struct {
	ID        string
	Owner     string
	Kind      string
	StartedAt time.Time
	// LastSeq is an ordering hint for logging only; it does not enforce
	// strict ordering.
	LastSeq int64
}

// Registry tracks live connections, subscriptions and streams.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]Peer
	topics  map[string]map[string]struct{}
	streams map[string]*Stream
	max     int
}

// New creates a registry. maxConnections <= 0 disables the capacity limit.
func New(maxConnections int) *Registry {
	return &Registry{
		peers:   make(map[string]Peer),
		topics:  make(map[string]map[string]struct{}),
		streams: make(map[string]*Stream),
		max:     maxConnections,
	}
}

// Register adds a connection, enforcing the capacity limit. This is the
// only condition under which a connection is refused outright.
func (r *Registry) Register(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.peers) >= r.max {
		return albon.ErrCapacityExceeded
	}

	r.peers[p.ID()] = p
	return nil
}

// Lookup returns a live connection by id.
func (r *Registry) Lookup(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	return p, ok
}

// Remove deletes the connection and cascades cleanup into every topic
// subscription and every stream session it owns. The cascade happens under
// the registry lock, so no concurrent publish or stream send can route a
// message to a connection that is mid-teardown.
func (r *Registry) Remove(id string) (topics []string, streams []Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return nil, nil
	}

	delete(r.peers, id)

	for topic, subs := range r.topics {
		if _, ok := subs[id]; !ok {
			continue
		}
		delete(subs, id)
		topics = append(topics, topic)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}

	for sid, st := range r.streams {
		if st.Owner == id {
			streams = append(streams, *st)
			delete(r.streams, sid)
		}
	}

	return topics, streams
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Peers returns a snapshot of all live connections.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Subscribe adds the connection to the topic's subscriber set. Subscribing
// twice is a no-op.
func (r *Registry) Subscribe(id, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return albon.ErrClientNotFound
	}

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		r.topics[topic] = subs
	}
	subs[id] = struct{}{}
	return nil
}

// Unsubscribe removes the connection from the topic's subscriber set. An
// empty subscriber set is removed, never kept as an empty entry.
func (r *Registry) Unsubscribe(id, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		return
	}

	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// Subscribers returns a snapshot of the topic's current subscribers,
// skipping exclude (pass "" to exclude nobody).
func (r *Registry) Subscribers(topic, exclude string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.topics[topic]
	if !ok {
		return nil
	}

	out := make([]Peer, 0, len(subs))
	for id := range subs {
		if id == exclude {
			continue
		}
		if p, ok := r.peers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Topics returns the topics the connection is currently subscribed to.
func (r *Registry) Topics(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for topic, subs := range r.topics {
		if _, ok := subs[id]; ok {
			out = append(out, topic)
		}
	}
	return out
}

// CreateStream opens a session owned by the given connection. A stream id
// that is already active is an error.
func (r *Registry) CreateStream(streamID, owner, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[owner]; !ok {
		return albon.ErrClientNotFound
	}
	if _, ok := r.streams[streamID]; ok {
		return albon.ErrDuplicateStream
	}

	r.streams[streamID] = &Stream{
		ID:        streamID,
		Owner:     owner,
		Kind:      kind,
		StartedAt: time.Now(),
		LastSeq:   -1,
	}
	return nil
}

// StreamOwner resolves a session to its owning connection.
func (r *Registry) StreamOwner(streamID string) (Peer, Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.streams[streamID]
	if !ok {
		return nil, Stream{}, albon.ErrStreamNotFound
	}

	p, ok := r.peers[st.Owner]
	if !ok {
		return nil, *st, albon.ErrClientNotFound
	}
	return p, *st, nil
}

// TouchStream records the last seen sequence number for a session.
func (r *Registry) TouchStream(streamID string, seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.streams[streamID]; ok && seq >= 0 {
		st.LastSeq = seq
	}
}

// RemoveStream deletes a session.
func (r *Registry) RemoveStream(streamID string) (Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.streams[streamID]
	if !ok {
		return Stream{}, false
	}
	delete(r.streams, streamID)
	return *st, true
}

// Streams returns a snapshot of all active sessions.
func (r *Registry) Streams() []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Stream, 0, len(r.streams))
	for _, st := range r.streams {
		out = append(out, *st)
	}
	return out
}

// Clear drops every subscription and stream and returns the remaining
// peers so the caller can close them. Used during shutdown.
func (r *Registry) Clear() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}

	r.peers = make(map[string]Peer)
	r.topics = make(map[string]map[string]struct{})
	r.streams = make(map[string]*Stream)
	return out
}
