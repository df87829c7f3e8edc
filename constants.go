package albon

// Authentication policies.
const (
	// AuthDisabled marks every connection authenticated at accept time.
	AuthDisabled = "disabled"
	// AuthSharedToken requires an auth message carrying the configured
	// token before any non-handshake traffic is accepted.
	AuthSharedToken = "token"
)

// Client categories declared in the handshake. The set is extensible: any
// non-empty string is accepted, these are the well-known values.
const (
	ClientTypeUnknown         = "unknown"
	ClientTypeMicrocontroller = "microcontroller"
	ClientTypeApplication     = "application"
	ClientTypeService         = "service"
)

// Standard protocol error strings sent to clients.
const (
	ErrMsgInvalidFormat   = "invalid message format"
	ErrMsgUnknownType     = "unknown message type"
	ErrMsgAuthRequired    = "authentication required"
	ErrMsgAuthFailed      = "authentication failed"
	ErrMsgPatternDisabled = "pattern disabled"
	ErrMsgPayloadTooLarge = "payload too large"
	ErrMsgCapacity        = "max connections reached"
	ErrMsgBinaryDisabled  = "binary payloads disabled"
)
