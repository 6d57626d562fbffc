package chanbus

import (
	"errors"
	"io"
	"net"
	"sync"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn is an in-memory FrameConn: tests push inbound frames through
// a channel and inspect everything the broker wrote back.
type fakeConn struct {
	mu          sync.Mutex
	written     []string
	inbound     chan string
	failWrites  bool
	closed      bool
	closeCode   int
	closeReason string
	token       string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan string, 64),
	}
}

func (c *fakeConn) ReadFrame() (string, error) {
	frame, ok := <-c.inbound
	if !ok {
		return "", io.EOF
	}
	return frame, nil
}

func (c *fakeConn) WriteFrame(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("write failed")
	}
	if c.closed {
		return errors.New("connection closed")
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) CloseWithStatus(code int, reason string) error {
	c.mu.Lock()
	if !c.closed {
		c.closeCode = code
		c.closeReason = reason
	}
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr("remote") }

func (c *fakeConn) AuthToken() string { return c.token }

// push delivers a frame to the broker's read loop.
func (c *fakeConn) push(frame string) {
	c.inbound <- frame
}

// frames returns a snapshot of everything written to the connection.
func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) closeStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}
