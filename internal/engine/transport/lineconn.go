package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameBytes bounds one inbound frame. Audio payloads are base64 so a
// generous cap keeps long utterances intact.
const maxFrameBytes = 8 << 20

// LineConn frames JSON messages over a stream connection, one frame per
// newline-terminated line.
type LineConn struct {
	conn net.Conn

	writeMu sync.Mutex
	reader  *bufio.Scanner

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLineConn wraps an established stream connection.
func NewLineConn(conn net.Conn) *LineConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	return &LineConn{
		conn:   conn,
		reader: scanner,
		closed: make(chan struct{}),
	}
}

// Send implements Transport. Frames must not contain raw newlines; the wire
// codec emits compact JSON so that holds by construction.
func (c *LineConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if bytes.ContainsRune(frame, '\n') {
		return fmt.Errorf("frame contains a raw newline")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if _, err := c.conn.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive implements Transport. Reads are serialized by the orchestrator's
// one receive loop per connection.
func (c *LineConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !c.reader.Scan() {
		select {
		case <-c.closed:
			return nil, ErrClosed
		default:
		}
		if err := c.reader.Err(); err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		return nil, io.EOF
	}
	line := c.reader.Bytes()
	frame := make([]byte, len(line))
	copy(frame, line)
	return frame, nil
}

// Close implements Transport.
func (c *LineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
