package chanbus

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WebSocketSubprotocol is the broker's WebSocket subprotocol.
	WebSocketSubprotocol = "chanbus"
)

// WSConn wraps a WebSocket connection as a FrameConn. Protocol frames map
// one to one onto WebSocket text messages.
type WSConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	authToken string
}

// NewWSConn wraps an upgraded WebSocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// ReadFrame reads the next text message.
func (c *WSConn) ReadFrame() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}

		// The protocol is text-only; binary messages are skipped.
		if messageType != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

// WriteFrame writes one text message.
func (c *WSConn) WriteFrame(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Close closes the connection without a close handshake.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// CloseWithStatus sends a WebSocket close frame with the given code and
// reason, then closes the connection.
func (c *WSConn) CloseWithStatus(code int, reason string) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *WSConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// AuthToken returns the token captured from the upgrade request, if any.
func (c *WSConn) AuthToken() string {
	return c.authToken
}

// WSDialer connects to brokers over WebSocket.
type WSDialer struct {
	// Dialer is the underlying WebSocket dialer.
	Dialer *websocket.Dialer

	// Header is the HTTP header to send with the handshake.
	Header http.Header
}

// Dial connects to the WebSocket address (ws:// or wss:// URL).
func (d *WSDialer) Dial(ctx context.Context, address string) (FrameConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := d.Header
	if header == nil {
		header = http.Header{}
	}

	conn, _, err := dialer.DialContext(ctx, address, header)
	if err != nil {
		return nil, err
	}

	return NewWSConn(conn), nil
}

// NewWSDialer creates a new WebSocket dialer with the broker subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:    []string{WebSocketSubprotocol},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// WSHandler is an HTTP handler that upgrades connections to WebSocket and
// hands the framed connection to the broker.
type WSHandler struct {
	// Upgrader is the WebSocket upgrader.
	Upgrader websocket.Upgrader

	// OnConnect is called with each upgraded connection.
	OnConnect func(conn FrameConn)

	// Path, when non-empty, restricts which URL path is accepted.
	// Connections presented on any other path are rejected with 406 Not
	// Acceptable before the upgrade, so no client object is ever created
	// for them.
	Path string

	// AllowedOrigins is a list of allowed origins for WebSocket
	// connections. If nil or empty, origin checking is strict (Origin
	// must match the Host header). Use "*" to allow all origins.
	AllowedOrigins []string
}

// NewWSHandler creates a WebSocket handler for the broker protocol.
func NewWSHandler(onConnect func(conn FrameConn)) *WSHandler {
	h := &WSHandler{
		OnConnect: onConnect,
	}
	h.Upgrader = websocket.Upgrader{
		Subprotocols:    []string{WebSocketSubprotocol},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the Origin header for WebSocket connections.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// No Origin header: allow (non-browser clients).
	if origin == "" {
		return true
	}

	if len(h.AllowedOrigins) > 0 {
		for _, allowed := range h.AllowedOrigins {
			if allowed == "*" || origin == allowed {
				return true
			}
		}
		return false
	}

	// Default: strict check, Origin host must match the Host header.
	host := r.Host
	if host == "" {
		return false
	}

	originHost := extractHost(origin)
	if originHost == "" {
		return false
	}

	return originHost == host
}

// extractHost extracts the host:port from a URL string.
func extractHost(urlStr string) string {
	var start int
	switch {
	case len(urlStr) > 8 && urlStr[:8] == "https://":
		start = 8
	case len(urlStr) > 7 && urlStr[:7] == "http://":
		start = 7
	case len(urlStr) > 6 && urlStr[:6] == "wss://":
		start = 6
	case len(urlStr) > 5 && urlStr[:5] == "ws://":
		start = 5
	default:
		return ""
	}

	end := len(urlStr)
	for i := start; i < len(urlStr); i++ {
		if urlStr[i] == '/' {
			end = i
			break
		}
	}

	return urlStr[start:end]
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Path != "" && r.URL.Path != h.Path {
		http.Error(w, "path not served", http.StatusNotAcceptable)
		return
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wsConn := NewWSConn(conn)
	wsConn.authToken = bearerToken(r)

	if h.OnConnect != nil {
		h.OnConnect(wsConn)
	}
}

// bearerToken extracts a client token from the upgrade request: the
// Authorization bearer header, falling back to a "token" query parameter
// for browser clients that cannot set headers on WebSocket handshakes.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
