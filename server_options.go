package chanbus

import (
	"time"

	"golang.org/x/time/rate"
)

type serverConfig struct {
	listeners    []Listener
	logger       Logger
	metrics      Metrics
	auth         Authenticator
	maxConns     int
	maxFrameSize int

	pingInterval time.Duration
	pongTimeout  time.Duration
	heartbeat    bool

	rateLimit rate.Limit
	rateBurst int

	inbound  []InboundInterceptor
	outbound []OutboundInterceptor

	onConnect    []Callback
	onDisconnect []Callback
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		logger:       &NoOpLogger{},
		metrics:      &NoOpMetrics{},
		maxFrameSize: defaultMaxFrameSize,
		pingInterval: DefaultPingInterval,
		pongTimeout:  DefaultPongTimeout,
		heartbeat:    true,
	}
}

// ServerOption is a function that configures a Server.
type ServerOption func(*serverConfig)

// WithListener adds a transport listener the server accepts connections
// from. May be given multiple times.
func WithListener(lis Listener) ServerOption {
	return func(c *serverConfig) {
		c.listeners = append(c.listeners, lis)
	}
}

// WithServerLogger sets the logger for server events.
func WithServerLogger(logger Logger) ServerOption {
	return func(c *serverConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithServerMetrics sets the metrics implementation for the server.
func WithServerMetrics(metrics Metrics) ServerOption {
	return func(c *serverConfig) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithServerAuth sets the authenticator consulted for every new
// connection. Without one, all connections are accepted.
func WithServerAuth(auth Authenticator) ServerOption {
	return func(c *serverConfig) {
		c.auth = auth
	}
}

// WithMaxConnections limits the number of simultaneously connected
// clients. Zero means unlimited.
func WithMaxConnections(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxConns = n
	}
}

// WithMaxFrameSize limits the size in bytes of a single inbound frame.
func WithMaxFrameSize(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithHeartbeat sets the ping interval and pong timeout used to detect
// dead clients.
func WithHeartbeat(pingInterval, pongTimeout time.Duration) ServerOption {
	return func(c *serverConfig) {
		if pingInterval > 0 {
			c.pingInterval = pingInterval
		}
		if pongTimeout > 0 {
			c.pongTimeout = pongTimeout
		}
	}
}

// WithHeartbeatDisabled turns off server pings and pong timeout reaping.
func WithHeartbeatDisabled() ServerOption {
	return func(c *serverConfig) {
		c.heartbeat = false
	}
}

// WithRateLimit applies a token bucket limit to inbound frames per
// client. burst <= 0 defaults to the ceiling of the rate.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(c *serverConfig) {
		c.rateLimit = rate.Limit(perSecond)
		if burst <= 0 {
			burst = int(perSecond) + 1
		}
		c.rateBurst = burst
	}
}

// WithInboundInterceptors registers interceptors applied to messages
// received from clients, in order, before channel callbacks run.
func WithInboundInterceptors(interceptors ...InboundInterceptor) ServerOption {
	return func(c *serverConfig) {
		c.inbound = append(c.inbound, interceptors...)
	}
}

// WithOutboundInterceptors registers interceptors applied to messages
// before they are queued for delivery.
func WithOutboundInterceptors(interceptors ...OutboundInterceptor) ServerOption {
	return func(c *serverConfig) {
		c.outbound = append(c.outbound, interceptors...)
	}
}

// OnConnect registers a callback fired when a client completes the
// handshake. The packet carries the assigned client id as its message.
func OnConnect(cb Callback) ServerOption {
	return func(c *serverConfig) {
		c.onConnect = append(c.onConnect, cb)
	}
}

// OnDisconnect registers a callback fired when a client disconnects.
// The packet message is a DisconnectInfo.
func OnDisconnect(cb Callback) ServerOption {
	return func(c *serverConfig) {
		c.onDisconnect = append(c.onDisconnect, cb)
	}
}
