package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxPayloadSize bounds a single text frame.
const DefaultMaxPayloadSize = 1 << 20 // 1MB

var (
	ErrTooLarge    = errors.New("message exceeds maximum size")
	ErrEmpty       = errors.New("empty message")
	ErrMissingType = errors.New("missing message type")
)

// Client-originated message kinds. The set is closed: the dispatcher answers
// anything else with an explicit unknown-type error instead of dropping it.
const (
	TypeHandshake   = "handshake"
	TypeAuth        = "auth"
	TypeData        = "data"
	TypeRequest     = "request"
	TypeResponse    = "response"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypeRPC         = "rpc"
	TypeStreamStart = "stream_start"
	TypeStreamData  = "stream_data"
	TypeStreamEnd   = "stream_end"
	TypeHeartbeat   = "heartbeat"
)

// Server-originated message kinds.
const (
	TypeWelcome = "welcome"
	TypeAck     = "ack"
	TypeError   = "error"
)

var inboundTypes = map[string]struct{}{
	TypeHandshake:   {},
	TypeAuth:        {},
	TypeData:        {},
	TypeRequest:     {},
	TypeResponse:    {},
	TypeSubscribe:   {},
	TypeUnsubscribe: {},
	TypePublish:     {},
	TypeRPC:         {},
	TypeStreamStart: {},
	TypeStreamData:  {},
	TypeStreamEnd:   {},
	TypeHeartbeat:   {},
}

// Message is the wire envelope for every structured frame in both
// directions. Only the fields relevant to a given kind are populated; the
// rest stay empty and are omitted on the wire.
type Message struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Ref          string          `json:"ref,omitempty"`
	Endpoint     string          `json:"endpoint,omitempty"`
	Method       string          `json:"method,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	Category     string          `json:"category,omitempty"`
	ClientType   string          `json:"clientType,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Token        string          `json:"token,omitempty"`
	StreamID     string          `json:"streamId,omitempty"`
	StreamKind   string          `json:"streamKind,omitempty"`
	Sequence     *int64          `json:"seq,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// KnownInboundType reports whether t is a client-originated kind the
// dispatcher routes.
func KnownInboundType(t string) bool {
	_, ok := inboundTypes[t]
	return ok
}

// Encode marshals a message, enforcing the frame size limit. maxSize <= 0
// falls back to DefaultMaxPayloadSize.
func Encode(msg *Message, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxPayloadSize
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	if len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxSize)
	}

	return data, nil
}

// Decode parses an inbound frame into a Message. A malformed frame or a
// frame without a type is a decode error; an unknown-but-present type is
// left to the dispatcher so it can answer with an explicit error reply.
func Decode(data []byte, maxSize int) (*Message, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxPayloadSize
	}

	if len(data) == 0 {
		return nil, ErrEmpty
	}

	if len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxSize)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	if msg.Type == "" {
		return nil, ErrMissingType
	}

	return &msg, nil
}

// MarshalPayload converts an application value into a raw payload. A nil
// value yields a nil payload; json.RawMessage and []byte pass through
// untouched.
func MarshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return data, nil
	}
}

// Ack builds a success acknowledgment referring to the given inbound kind.
func Ack(ref, id string, payload json.RawMessage) *Message {
	ok := true
	return &Message{Type: TypeAck, Ref: ref, ID: id, Success: &ok, Payload: payload}
}

// ErrAck builds a failure acknowledgment referring to the given inbound
// kind.
func ErrAck(ref, id, errMsg string) *Message {
	ok := false
	return &Message{Type: TypeAck, Ref: ref, ID: id, Success: &ok, Error: errMsg}
}

// Response builds a success response carrying the caller's correlation id.
func Response(id string, payload json.RawMessage) *Message {
	ok := true
	return &Message{Type: TypeResponse, ID: id, Success: &ok, Payload: payload}
}

// ErrResponse builds an error response carrying the caller's correlation
// id.
func ErrResponse(id, errMsg string) *Message {
	ok := false
	return &Message{Type: TypeResponse, ID: id, Success: &ok, Error: errMsg}
}

// ProtocolError builds an error reply for malformed or unroutable traffic.
// The offending message's id is echoed when known so clients can correlate.
func ProtocolError(id, errMsg string) *Message {
	return &Message{Type: TypeError, ID: id, Error: errMsg}
}
