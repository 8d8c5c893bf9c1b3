package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Loopback is a self-contained dry-run transport. It never leaves the
// process: each non-silent audio frame it receives is answered with the next
// scripted inbound message, and a stop frame is answered with a hangup
// acknowledgement. Silent frames are consumed without a reply.
type Loopback struct {
	mu     sync.Mutex
	script [][]byte
	next   int

	inbox     chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewLoopback returns a loopback transport replaying the given inbound
// messages in order. The script entries must be raw inbound frames.
func NewLoopback(script [][]byte) *Loopback {
	copied := make([][]byte, len(script))
	for i, msg := range script {
		buf := make([]byte, len(msg))
		copy(buf, msg)
		copied[i] = buf
	}
	return &Loopback{
		script: copied,
		inbox:  make(chan []byte, len(script)+8),
		closed: make(chan struct{}),
	}
}

// Send implements Transport.
func (l *Loopback) Send(ctx context.Context, frame []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var outbound struct {
		Kind      string `json:"kind"`
		AudioData *struct {
			IsSilent bool `json:"isSilent"`
		} `json:"audioData"`
	}
	if err := json.Unmarshal(frame, &outbound); err != nil {
		return fmt.Errorf("loopback received unparseable frame: %w", err)
	}

	switch outbound.Kind {
	case "audioData":
		if outbound.AudioData != nil && outbound.AudioData.IsSilent {
			return nil
		}
		l.enqueueNextScripted()
		return nil
	case "stopAudio":
		l.enqueue([]byte(`{"kind":"control","control":{"signal":"hangupAck"}}`))
		return nil
	default:
		return fmt.Errorf("loopback received unknown frame kind %q", outbound.Kind)
	}
}

// Receive implements Transport.
func (l *Loopback) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-l.inbox:
		return msg, nil
	default:
	}

	select {
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-l.inbox:
		return msg, nil
	}
}

// Close implements Transport.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *Loopback) enqueueNextScripted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next >= len(l.script) {
		return
	}
	msg := l.script[l.next]
	l.next++
	select {
	case l.inbox <- msg:
	default:
	}
}

func (l *Loopback) enqueue(msg []byte) {
	select {
	case l.inbox <- msg:
	default:
	}
}
