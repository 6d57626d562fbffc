package chanbus

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler is a client-side function invoked for each message delivered on
// a subscribed channel.
type Handler func(message any)

// Client is a broker client. One Client multiplexes any number of
// channel subscriptions over a single framed connection; messages for
// each channel are dispatched to the handlers registered with Listen or
// On.
//
// A Client answers server pings automatically, so applications never
// deal with heartbeats directly.
type Client struct {
	config  *clientConfig
	logger  Logger
	dialer  Dialer
	address string

	mu       sync.Mutex
	conn     FrameConn
	handlers map[string][]Handler
	subs     map[string]struct{}

	connected atomic.Bool
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// Dial connects to a broker. The URL scheme selects the transport:
// ws or wss for WebSocket, tcp, tls, unix, or quic for the
// newline-framed transports. The returned client is connected and its
// read loop running.
func Dial(ctx context.Context, rawURL string, opts ...ClientOption) (*Client, error) {
	config := defaultClientConfig()
	for _, opt := range opts {
		opt(config)
	}

	dialer, address, err := dialerForURL(rawURL, config)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:   config,
		logger:   config.logger,
		dialer:   dialer,
		address:  address,
		handlers: make(map[string][]Handler),
		subs:     make(map[string]struct{}),
	}

	conn, err := dialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	c.start(conn)
	return c, nil
}

// NewClient wraps an already-established framed connection. Automatic
// reconnection is unavailable without a dialer, so WithReconnect is
// ignored here.
func NewClient(conn FrameConn, opts ...ClientOption) *Client {
	config := defaultClientConfig()
	for _, opt := range opts {
		opt(config)
	}
	config.reconnect = false

	c := &Client{
		config:   config,
		logger:   config.logger,
		handlers: make(map[string][]Handler),
		subs:     make(map[string]struct{}),
	}
	c.start(conn)
	return c
}

// dialerForURL maps a broker URL to a transport dialer and its dial
// address.
func dialerForURL(rawURL string, config *clientConfig) (Dialer, string, error) {
	if config.dialer != nil {
		return config.dialer, rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("chanbus: invalid broker URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		dialer := NewWSDialer()
		dialer.Header = config.wsHeader()
		if config.tls != nil {
			dialer.Dialer.TLSClientConfig = config.tls
		}
		if config.proxy != nil {
			pd, err := NewProxyDialer(config.proxy.URL, config.proxy.Username, config.proxy.Password)
			if err != nil {
				return nil, "", err
			}
			dialer.Dialer.NetDialContext = pd.DialContext
		}
		return dialer, rawURL, nil

	case "tcp":
		if config.proxy != nil {
			pd, err := NewProxyDialer(config.proxy.URL, config.proxy.Username, config.proxy.Password)
			if err != nil {
				return nil, "", err
			}
			return pd, u.Host, nil
		}
		return &TCPDialer{}, u.Host, nil

	case "tls":
		return &TLSDialer{Config: config.tls}, u.Host, nil

	case "unix":
		return NewUnixDialer(), u.Path, nil

	case "quic":
		return NewQUICDialer(config.tls), u.Host, nil

	default:
		return nil, "", fmt.Errorf("chanbus: unsupported broker URL scheme %q", u.Scheme)
	}
}

func (c *Client) start(conn FrameConn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)
}

// IsConnected reports whether the client currently holds a live
// connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Listen subscribes to a channel and registers a handler for its
// messages. The subscription survives reconnections.
func (c *Client) Listen(channel string, handler Handler) error {
	if IsReservedName(channel) {
		return ErrReservedChannel
	}

	c.mu.Lock()
	if handler != nil {
		c.handlers[channel] = append(c.handlers[channel], handler)
	}
	c.subs[channel] = struct{}{}
	c.mu.Unlock()

	return c.Emit(EventListeningTo.String(), channel)
}

// On registers a handler for frames delivered under the given key
// without subscribing, such as server-initiated sends or the reserved
// control keys.
func (c *Client) On(key string, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.handlers[key] = append(c.handlers[key], handler)
	c.mu.Unlock()
}

// Emit publishes a message to a channel. The broker fans it out to the
// channel's other subscribers; the sender never receives its own echo.
func (c *Client) Emit(channel string, message any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	frame, err := EncodeFrame(channel, message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteFrame(frame)
}

// Close disconnects with a normal-closure handshake and stops the read
// loop. A closed client never reconnects.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connected.Store(false)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.CloseWithStatus(CloseNormal, "client closing")
	}
	c.wg.Wait()
	return err
}

func (c *Client) readLoop(conn FrameConn) {
	defer c.wg.Done()

	for {
		text, err := conn.ReadFrame()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		frame, derr := DecodeFrame(text, 0)
		if derr != nil {
			c.logger.Debug("malformed frame from server", LogFields{
				LogFieldError: derr.Error(),
			})
			continue
		}

		switch frame.Kind {
		case FramePing:
			if werr := conn.WriteFrame(PongFrame); werr != nil {
				c.logger.Warn("pong write failed", LogFields{
					LogFieldError: werr.Error(),
				})
			}
		case FramePong:
			// Answer to a ping this client sent; nothing to track.
		case FrameMessage:
			c.dispatch(frame)
		}
	}
}

func (c *Client) dispatch(frame Frame) {
	if frame.Key == EventError.String() {
		if c.config.onError != nil {
			c.config.onError(fmt.Sprint(frame.Value))
		} else {
			c.logger.Warn("server error", LogFields{
				LogFieldError: fmt.Sprint(frame.Value),
			})
		}
	}

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[frame.Key]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(frame.Value)
	}
}

func (c *Client) handleDisconnect(conn FrameConn, err error) {
	c.connected.Store(false)
	conn.Close()

	if c.closed.Load() {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = nil
	}
	if c.config.onDisconnect != nil {
		c.config.onDisconnect(err)
	}
	if err != nil {
		c.logger.Warn("connection lost", LogFields{
			LogFieldError: err.Error(),
		})
	}

	if c.config.reconnect && c.dialer != nil && err != nil {
		c.wg.Add(1)
		go c.reconnectLoop()
	}
}

// reconnectLoop redials with exponential backoff until it succeeds or
// the client is closed, then resubscribes every channel and announces
// the reconnection on the reconnect control channel.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	wait := c.config.reconnectMinWait
	for attempt := 1; ; attempt++ {
		if c.closed.Load() {
			return
		}

		time.Sleep(wait)
		if wait *= 2; wait > c.config.reconnectMaxWait {
			wait = c.config.reconnectMaxWait
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := c.dialer.Dial(ctx, c.address)
		cancel()
		if err != nil {
			c.logger.Debug("reconnect attempt failed", LogFields{
				LogFieldError: err.Error(),
			})
			continue
		}

		c.start(conn)
		c.resubscribe()

		if eerr := c.Emit(EventReconnect.String(), true); eerr != nil {
			c.logger.Warn("reconnect announcement failed", LogFields{
				LogFieldError: eerr.Error(),
			})
		}
		if c.config.onReconnect != nil {
			c.config.onReconnect(attempt)
		}

		c.logger.Info("reconnected", nil)
		return
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make([]string, 0, len(c.subs))
	for name := range c.subs {
		subs = append(subs, name)
	}
	c.mu.Unlock()

	for _, name := range subs {
		if err := c.Emit(EventListeningTo.String(), name); err != nil {
			c.logger.Warn("resubscribe failed", LogFields{
				LogFieldChannel: name,
				LogFieldError:   err.Error(),
			})
		}
	}
}
