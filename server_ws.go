package chanbus

import (
	"net/http"
)

// WSServer is a broker exposed over a WebSocket endpoint. It couples a
// Server with a WSHandler so an http.Server can host the broker on an
// ordinary mux, which is the common deployment.
type WSServer struct {
	*Server
	handler *WSHandler
	http    *http.Server
}

// NewWSServer creates a broker served at the given URL path. An empty
// path accepts every request the handler receives. Server options apply
// as in NewServer.
func NewWSServer(path string, opts ...ServerOption) *WSServer {
	ws := &WSServer{
		Server: NewServer(opts...),
	}
	ws.handler = NewWSHandler(ws.handleConn)
	ws.handler.Path = path
	return ws
}

// Handler returns the underlying WSHandler, for adjusting its upgrader
// or allowed origins before serving.
func (ws *WSServer) Handler() *WSHandler {
	return ws.handler
}

// ServeHTTP implements http.Handler: requests on the configured path are
// upgraded and served as broker clients.
func (ws *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws.handler.ServeHTTP(w, r)
}

// ListenAndServe starts an HTTP server on addr hosting the broker
// endpoint. It blocks until the server is closed.
func (ws *WSServer) ListenAndServe(addr string) error {
	ws.http = &http.Server{
		Addr:    addr,
		Handler: ws,
	}

	err := ws.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return ErrServerClosed
	}
	return err
}

// Close shuts down the HTTP listener and then the broker.
func (ws *WSServer) Close() error {
	if ws.http != nil {
		ws.http.Close()
	}
	return ws.Server.Close()
}

// handleConn is the upgrade callback: each upgraded connection runs the
// standard client lifecycle on its own goroutine, which the WebSocket
// hijack already provides.
func (ws *WSServer) handleConn(conn FrameConn) {
	ws.ServeConn(conn)
}
