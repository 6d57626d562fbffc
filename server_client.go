package chanbus

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ServerClient represents one connected peer on the server: its assigned
// id, its exclusively owned connection, and the set of channel names it
// subscribes to.
type ServerClient struct {
	mu            sync.RWMutex
	conn          FrameConn
	id            int
	subscriptions map[string]struct{}
	connected     atomic.Bool
	closing       atomic.Bool
}

func newServerClient(id int, conn FrameConn) *ServerClient {
	client := &ServerClient{
		conn:          conn,
		id:            id,
		subscriptions: make(map[string]struct{}),
	}
	client.connected.Store(true)
	return client
}

// ID returns the client identifier. Ids are unique among currently
// connected clients and are reused after disconnect, always taking the
// lowest free value.
func (c *ServerClient) ID() int {
	return c.id
}

// Conn returns the underlying connection.
func (c *ServerClient) Conn() FrameConn {
	return c.conn
}

// IsConnected returns whether the client is connected.
func (c *ServerClient) IsConnected() bool {
	return c.connected.Load()
}

// beginTeardown marks the client as disconnecting. Exactly one caller
// gets true.
func (c *ServerClient) beginTeardown() bool {
	return c.closing.CompareAndSwap(false, true)
}

// Subscriptions returns the channel names this client listens to, sorted.
func (c *ServerClient) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.subscriptions))
	for name := range c.subscriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribed reports whether the client listens to the named channel.
func (c *ServerClient) Subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.subscriptions[channel]
	return ok
}

func (c *ServerClient) addSubscription(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = struct{}{}
}

func (c *ServerClient) removeSubscription(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, channel)
}

func (c *ServerClient) clearSubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.subscriptions))
	for name := range c.subscriptions {
		names = append(names, name)
	}
	c.subscriptions = make(map[string]struct{})
	return names
}

// SendMessage encodes a {channel: message} frame and writes it to the
// client's connection. Connection implementations serialize frame writes,
// so concurrent senders never interleave partial frames.
func (c *ServerClient) SendMessage(channel string, message any) error {
	frame, err := EncodeFrame(channel, message)
	if err != nil {
		return err
	}
	return c.SendFrame(frame)
}

// SendError writes an {"error": text} frame to the client.
func (c *ServerClient) SendError(text string) error {
	return c.SendFrame(EncodeErrorFrame(text))
}

// SendFrame writes a raw frame to the client's connection.
func (c *ServerClient) SendFrame(frame string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.conn.WriteFrame(frame)
}

// Close closes the client connection without a close handshake.
func (c *ServerClient) Close() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	return c.conn.Close()
}

// CloseWithStatus performs a close handshake with the given code and
// reason where the transport supports one, then closes the connection.
func (c *ServerClient) CloseWithStatus(code int, reason string) error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	return c.conn.CloseWithStatus(code, reason)
}
