package albon

import "errors"

var (
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerClosed         = errors.New("server is shut down")
	ErrClientNotFound       = errors.New("client not found")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrCapacityExceeded     = errors.New("max connections reached")

	ErrRequestTimeout = errors.New("request timeout")
	ErrRemoteError    = errors.New("remote error")

	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrMethodNotFound   = errors.New("method not found")

	ErrDuplicateStream = errors.New("stream id already active")
	ErrStreamNotFound  = errors.New("stream not found")
	ErrNotStreamOwner  = errors.New("not stream owner")

	ErrValidationFailed = errors.New("validation failed")
	ErrPatternDisabled  = errors.New("pattern disabled")
)
