package chanbus

import (
	"crypto/tls"
	"net/http"
	"time"
)

const (
	defaultReconnectMinWait = 500 * time.Millisecond
	defaultReconnectMaxWait = 30 * time.Second
)

type clientConfig struct {
	logger Logger
	dialer Dialer
	tls    *tls.Config
	token  string
	proxy  *ProxyConfig

	reconnect        bool
	reconnectMinWait time.Duration
	reconnectMaxWait time.Duration

	onError      func(text string)
	onDisconnect func(err error)
	onReconnect  func(attempt int)
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		logger:           &NoOpLogger{},
		reconnectMinWait: defaultReconnectMinWait,
		reconnectMaxWait: defaultReconnectMaxWait,
	}
}

// ClientOption is a function that configures a Client.
type ClientOption func(*clientConfig)

// WithClientLogger sets the logger for client events.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer overrides the transport dialer chosen from the URL scheme.
func WithDialer(dialer Dialer) ClientOption {
	return func(c *clientConfig) {
		c.dialer = dialer
	}
}

// WithTLS sets the TLS configuration used by the tls, wss and quic
// schemes.
func WithTLS(config *tls.Config) ClientOption {
	return func(c *clientConfig) {
		c.tls = config
	}
}

// WithToken sets the bearer token presented during transport setup.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithProxy routes the connection through an HTTP CONNECT or SOCKS5
// proxy. Only the tcp and ws schemes support proxying.
func WithProxy(proxy *ProxyConfig) ClientOption {
	return func(c *clientConfig) {
		c.proxy = proxy
	}
}

// WithReconnect enables automatic reconnection with exponential backoff.
// After reconnecting, the client resubscribes its channels and announces
// itself on the reconnect control channel.
func WithReconnect() ClientOption {
	return func(c *clientConfig) {
		c.reconnect = true
	}
}

// WithReconnectWait bounds the backoff between reconnection attempts.
func WithReconnectWait(min, max time.Duration) ClientOption {
	return func(c *clientConfig) {
		if min > 0 {
			c.reconnectMinWait = min
		}
		if max > 0 {
			c.reconnectMaxWait = max
		}
	}
}

// OnError registers a handler for error frames sent by the server.
func OnError(fn func(text string)) ClientOption {
	return func(c *clientConfig) {
		c.onError = fn
	}
}

// OnClientDisconnect registers a handler called when the connection is
// lost. The error is nil for a locally initiated close.
func OnClientDisconnect(fn func(err error)) ClientOption {
	return func(c *clientConfig) {
		c.onDisconnect = fn
	}
}

// OnClientReconnect registers a handler called after each successful
// reconnection, with the attempt count that succeeded.
func OnClientReconnect(fn func(attempt int)) ClientOption {
	return func(c *clientConfig) {
		c.onReconnect = fn
	}
}

// wsHeader builds the handshake header carrying the configured token.
func (c *clientConfig) wsHeader() http.Header {
	if c.token == "" {
		return nil
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	return header
}
