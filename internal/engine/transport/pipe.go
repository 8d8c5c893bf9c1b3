package transport

import (
	"context"
	"sync"
)

// pipeEndpoint is one side of an in-memory duplex transport.
type pipeEndpoint struct {
	out chan []byte
	in  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	peer      *pipeEndpoint
}

// Pipe returns two connected in-memory transports. Frames sent on one side
// arrive on the other in order. Both carry a small buffer so a sender does
// not block on a slow reader during tests.
func Pipe() (Transport, Transport) {
	aToB := make(chan []byte, 64)
	bToA := make(chan []byte, 64)

	a := &pipeEndpoint{out: aToB, in: bToA, closed: make(chan struct{})}
	b := &pipeEndpoint{out: bToA, in: aToB, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements Transport.
func (p *pipeEndpoint) Send(ctx context.Context, frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- buf:
		return nil
	}
}

// Receive implements Transport.
func (p *pipeEndpoint) Receive(ctx context.Context) ([]byte, error) {
	// Drain delivered frames before reporting peer closure.
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}

	select {
	case <-p.closed:
		return nil, ErrClosed
	case <-p.peer.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-p.in:
		return frame, nil
	}
}

// Close implements Transport. Closing either side unblocks both.
func (p *pipeEndpoint) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
