// Package transport defines the narrow seam between the run engine and the
// upstream translation service. The engine only ever sends marshaled frames
// and receives raw inbound messages; framing and connectivity live behind
// this interface.
package transport

import (
	"context"
	"fmt"
)

// ErrClosed is returned once a transport endpoint has been closed.
var ErrClosed = fmt.Errorf("transport is closed")

// Transport is one bidirectional connection to the upstream service.
// Send and Receive are safe for use from different goroutines; Close
// unblocks both.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens one transport per scenario participant.
type Dialer interface {
	Dial(ctx context.Context, participant string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, participant string) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, participant string) (Transport, error) {
	return f(ctx, participant)
}
