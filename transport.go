package chanbus

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"
)

// FrameConn is a bidirectional connection carrying discrete UTF-8 text
// frames. Implementations serialize WriteFrame internally, so one frame
// is never interleaved with another even when multiple goroutines write.
type FrameConn interface {
	// ReadFrame blocks until the next frame arrives.
	ReadFrame() (string, error)

	// WriteFrame writes one frame.
	WriteFrame(frame string) error

	// Close closes the connection without a close handshake.
	Close() error

	// CloseWithStatus performs a close handshake with the given code and
	// reason where the transport supports one, then closes the
	// connection.
	CloseWithStatus(code int, reason string) error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
}

// Listener accepts incoming framed connections.
type Listener interface {
	// Accept waits for and returns the next connection.
	Accept() (FrameConn, error)

	// Close closes the listener.
	Close() error

	// Addr returns the listener's network address.
	Addr() net.Addr
}

// Dialer establishes framed connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (FrameConn, error)
}

// LineConn frames a byte-stream connection with newline-delimited UTF-8
// text. It is the framing used by the TCP, TLS, Unix socket and QUIC
// transports; WebSocket connections carry frames natively instead.
type LineConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	maxSize int
}

// NewLineConn wraps a stream connection with newline framing. maxSize
// bounds a single frame in bytes; 0 applies a 1MB default.
func NewLineConn(conn net.Conn, maxSize int) *LineConn {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	return &LineConn{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, 4096),
		maxSize: maxSize,
	}
}

// ReadFrame reads the next newline-terminated frame, without the
// terminator.
func (c *LineConn) ReadFrame() (string, error) {
	var frame strings.Builder
	for {
		chunk, err := c.reader.ReadString('\n')
		frame.WriteString(strings.TrimSuffix(chunk, "\n"))
		if frame.Len() > c.maxSize {
			return "", ErrFrameTooLarge
		}
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(chunk, "\n") {
			return frame.String(), nil
		}
	}
}

// WriteFrame writes one frame followed by the newline terminator.
func (c *LineConn) WriteFrame(frame string) error {
	if len(frame) > c.maxSize {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write([]byte(frame)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte{'\n'})
	return err
}

// Close closes the underlying connection.
func (c *LineConn) Close() error {
	return c.conn.Close()
}

// CloseWithStatus closes the connection. Stream transports have no close
// handshake; the code and reason are dropped.
func (c *LineConn) CloseWithStatus(_ int, _ string) error {
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *LineConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *LineConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *LineConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// TCPListener accepts plaintext TCP connections with newline framing.
type TCPListener struct {
	listener net.Listener
	maxSize  int
}

// NewTCPListener creates a new TCP listener on the given address.
func NewTCPListener(address string) (*TCPListener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: l}, nil
}

// Accept waits for and returns the next connection.
func (l *TCPListener) Accept() (FrameConn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewLineConn(conn, l.maxSize), nil
}

// Close closes the listener.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// TCPDialer connects to brokers over plaintext TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (FrameConn, error) {
	var dialer net.Dialer
	if d.Timeout > 0 {
		dialer.Timeout = d.Timeout
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewLineConn(conn, 0), nil
}

// TLSListener accepts TLS connections with newline framing. The broker
// treats TLS-terminated and plaintext connections identically once
// accepted.
type TLSListener struct {
	listener net.Listener
	maxSize  int
}

// NewTLSListener creates a new TLS listener on the given address.
func NewTLSListener(address string, config *tls.Config) (*TLSListener, error) {
	l, err := tls.Listen("tcp", address, config)
	if err != nil {
		return nil, err
	}
	return &TLSListener{listener: l}, nil
}

// Accept waits for and returns the next connection.
func (l *TLSListener) Accept() (FrameConn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewLineConn(conn, l.maxSize), nil
}

// Close closes the listener.
func (l *TLSListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *TLSListener) Addr() net.Addr {
	return l.listener.Addr()
}

// TLSDialer connects to brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (FrameConn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewLineConn(conn, 0), nil
}

// authTokenCarrier is implemented by connections that carry a client
// authentication token collected during transport setup, such as the
// WebSocket upgrade request.
type authTokenCarrier interface {
	AuthToken() string
}

// connAuthToken extracts the authentication token from a connection, or
// returns "" for transports that carry none.
func connAuthToken(conn FrameConn) string {
	if carrier, ok := conn.(authTokenCarrier); ok {
		return carrier.AuthToken()
	}
	return ""
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
