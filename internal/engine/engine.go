// Package engine implements the four communication patterns and the RPC
// dispatch table on top of the connection registry. Engines consume the
// registry's Peer surface and never touch sockets directly.
package engine

import (
	"context"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// Caller is the view of a connection the engines get from the dispatcher:
// the public client surface plus the ability to send envelopes back.
type Caller interface {
	albon.Client
	Send(ctx context.Context, msg *protocol.Message) error
}
