package chanbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Server is the broker. It accepts framed connections from one or more
// transport listeners, assigns each a client id, routes subscribe
// requests and publishes between them, and reaps clients that stop
// answering heartbeat pings.
//
// All delivery funnels through a single Sender queue, so every
// subscriber observes messages in global publish order.
type Server struct {
	config    *serverConfig
	registry  *Registry
	sender    *Sender
	heartbeat *HeartbeatManager
	logger    Logger
	metrics   *HubMetrics

	mu        sync.Mutex
	listeners []Listener

	closed     atomic.Bool
	done       chan struct{}
	wg         sync.WaitGroup
	reconnects atomic.Int64
}

// NewServer creates a broker configured by the given options. The server
// does not accept connections until ListenAndServe or Serve is called,
// but ServeConn may be used immediately for externally accepted
// connections.
func NewServer(opts ...ServerOption) *Server {
	config := defaultServerConfig()
	for _, opt := range opts {
		opt(config)
	}

	metrics := NewHubMetrics(config.metrics)

	s := &Server{
		config:    config,
		registry:  NewRegistry(),
		sender:    NewSender(config.logger, metrics),
		heartbeat: NewHeartbeatManager(config.pongTimeout),
		logger:    config.logger,
		metrics:   metrics,
		done:      make(chan struct{}),
	}

	for _, cb := range config.onConnect {
		s.registry.OpenOrGet(EventConnect.String(), cb)
	}
	for _, cb := range config.onDisconnect {
		s.registry.OpenOrGet(EventDisconnect.String(), cb)
	}

	if config.heartbeat {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}

	return s
}

// ListenAndServe starts accept loops for every listener configured with
// WithListener and blocks until the server is closed. It returns
// ErrServerClosed after a clean shutdown.
func (s *Server) ListenAndServe() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if len(s.config.listeners) == 0 {
		return fmt.Errorf("chanbus: no listeners configured")
	}

	for _, lis := range s.config.listeners {
		s.addListener(lis)
		s.wg.Add(1)
		go s.acceptLoop(lis)
	}

	<-s.done
	return ErrServerClosed
}

// Serve runs an accept loop on a single listener, blocking until the
// listener fails or the server is closed.
func (s *Server) Serve(lis Listener) error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	s.addListener(lis)
	for {
		conn, err := lis.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

func (s *Server) addListener(lis Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, lis)
}

func (s *Server) acceptLoop(lis Listener) {
	defer s.wg.Done()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Error("accept failed", LogFields{
					LogFieldError: err.Error(),
				})
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs the full client lifecycle on an already-established
// framed connection: authentication, registration, the read loop, and
// teardown. It blocks until the connection ends, so callers that accept
// connections themselves usually invoke it from a goroutine or an HTTP
// handler.
func (s *Server) ServeConn(conn FrameConn) {
	if s.closed.Load() {
		conn.CloseWithStatus(CloseNormal, "server closed")
		return
	}

	if !s.admit(conn) {
		return
	}

	client := s.registry.RegisterClient(conn)
	s.metrics.ConnectionOpened()
	if s.config.heartbeat {
		s.heartbeat.Register(client.ID())
	}

	s.logger.Info("client connected", LogFields{
		LogFieldClientID:   client.ID(),
		LogFieldRemoteAddr: addrString(conn.RemoteAddr()),
	})

	s.fireCallbacks(Packet{
		From:    BrokerID,
		To:      EventConnect.String(),
		Message: client.ID(),
	})

	s.readLoop(client)
}

// admit runs the pre-registration checks: connection limit and
// authentication. A rejected connection receives an error frame and a
// policy-violation close before it ever gets a client id.
func (s *Server) admit(conn FrameConn) bool {
	if s.config.maxConns > 0 && s.registry.ClientCount() >= s.config.maxConns {
		conn.WriteFrame(EncodeErrorFrame("server is at connection capacity"))
		conn.CloseWithStatus(ClosePolicyViolation, "server full")
		return false
	}

	if s.config.auth != nil {
		actx := &AuthContext{
			RemoteAddr: conn.RemoteAddr(),
			LocalAddr:  conn.LocalAddr(),
			Token:      connAuthToken(conn),
		}

		result, err := s.config.auth.Authenticate(context.Background(), actx)
		if err != nil {
			s.logger.Error("authentication failed", LogFields{
				LogFieldRemoteAddr: addrString(conn.RemoteAddr()),
				LogFieldError:      err.Error(),
			})
			conn.CloseWithStatus(ClosePolicyViolation, "authentication error")
			return false
		}
		if result == nil || !result.Allowed {
			reason := "unauthorized"
			if result != nil && result.Reason != "" {
				reason = result.Reason
			}
			s.logger.Warn("connection rejected", LogFields{
				LogFieldRemoteAddr: addrString(conn.RemoteAddr()),
				LogFieldReason:     reason,
			})
			conn.WriteFrame(EncodeErrorFrame(reason))
			conn.CloseWithStatus(ClosePolicyViolation, reason)
			return false
		}
	}

	return true
}

func (s *Server) readLoop(client *ServerClient) {
	var limiter *rate.Limiter
	if s.config.rateLimit > 0 {
		limiter = rate.NewLimiter(s.config.rateLimit, s.config.rateBurst)
	}

	for {
		text, err := client.Conn().ReadFrame()
		if err != nil {
			s.teardown(client.ID(), CloseAbnormal, "connection lost")
			return
		}

		if limiter != nil && !limiter.Allow() {
			s.metrics.ProtocolError()
			client.SendError("rate limit exceeded")
			continue
		}

		frame, err := DecodeFrame(text, s.config.maxFrameSize)
		if err != nil {
			s.metrics.ProtocolError()
			s.logger.Debug("malformed frame", LogFields{
				LogFieldClientID: client.ID(),
				LogFieldError:    err.Error(),
			})
			client.SendError(err.Error())
			continue
		}

		switch frame.Kind {
		case FramePing:
			client.SendFrame(PongFrame)
		case FramePong:
			s.heartbeat.Pong(client.ID())
		case FrameMessage:
			s.handleMessage(client, frame)
		}
	}
}

// handleMessage dispatches one decoded JSON frame: reserved keys route to
// control handling, everything else is a publish to the named channel.
func (s *Server) handleMessage(client *ServerClient, frame Frame) {
	if ev, ok := ParseReservedEvent(frame.Key); ok {
		s.handleReserved(client, ev, frame.Value)
		return
	}
	s.handlePublish(client, frame.Key, frame.Value)
}

func (s *Server) handleReserved(client *ServerClient, ev ReservedEvent, value any) {
	switch ev {
	case EventListeningTo:
		s.handleSubscribe(client, value)

	case EventPong:
		// Some clients answer pings with {"pong": ...} instead of the bare
		// literal. Both count.
		s.heartbeat.Pong(client.ID())

	case EventReconnect:
		s.reconnects.Add(1)
		s.metrics.Reconnect()
		s.logger.Info("client reconnected", LogFields{
			LogFieldClientID: client.ID(),
		})
		s.fireCallbacks(Packet{
			From:    client.ID(),
			To:      EventReconnect.String(),
			Message: value,
		})

	case EventError:
		s.logger.Debug("client reported error", LogFields{
			LogFieldClientID: client.ID(),
			LogFieldEvent:    fmt.Sprint(value),
		})
		s.fireCallbacks(Packet{
			From:    client.ID(),
			To:      EventError.String(),
			Message: value,
		})

	case EventConnect, EventDisconnect:
		s.metrics.ProtocolError()
		client.SendError(fmt.Sprintf("clients cannot publish to the reserved channel %q", ev.String()))
	}
}

func (s *Server) handleSubscribe(client *ServerClient, value any) {
	name, ok := value.(string)
	if !ok {
		s.metrics.ProtocolError()
		client.SendError("listening_to expects a channel name")
		return
	}

	switch err := s.registry.Subscribe(name, client.ID()); err {
	case nil:
	case ErrChannelNotFound:
		s.metrics.ProtocolError()
		client.SendError(missingChannelText(name))
		return
	case ErrReservedChannel:
		s.metrics.ProtocolError()
		client.SendError(fmt.Sprintf("cannot subscribe to the reserved channel %q", name))
		return
	case ErrAlreadySubscribed:
		client.SendError(fmt.Sprintf("already subscribed to %q", name))
		return
	default:
		client.SendError(err.Error())
		return
	}

	s.logger.Debug("client subscribed", LogFields{
		LogFieldClientID: client.ID(),
		LogFieldChannel:  name,
	})

	s.fireCallbacks(Packet{
		From:    client.ID(),
		To:      EventListeningTo.String(),
		Message: name,
	})
}

func (s *Server) handlePublish(client *ServerClient, channel string, value any) {
	if _, ok := s.registry.GetChannel(channel); !ok {
		s.metrics.ProtocolError()
		client.SendError(missingChannelText(channel))
		return
	}

	pkt := &Packet{
		From:    client.ID(),
		To:      channel,
		Message: attachSender(value, client.ID()),
	}

	if pkt = applyInboundInterceptors(s.config.inbound, pkt); pkt == nil {
		return
	}

	s.metrics.MessagePublished()

	for _, cb := range s.registry.SnapshotCallbacks(channel) {
		cb(*pkt)
	}

	if pkt = applyOutboundInterceptors(s.config.outbound, pkt); pkt == nil {
		return
	}

	// Targets resolve after callbacks so a callback that alters
	// membership is reflected in the same delivery.
	targets, ok := s.registry.SnapshotTargets(pkt.To)
	if !ok {
		return
	}
	s.sender.Enqueue(*pkt, targets)
}

// fireCallbacks runs the callbacks registered on a pseudo-channel, in
// registration order.
func (s *Server) fireCallbacks(pkt Packet) {
	for _, cb := range s.registry.SnapshotCallbacks(pkt.To) {
		cb(pkt)
	}
}

// teardown disconnects a client exactly once: it is called from both the
// read loop and the heartbeat reaper, and the client's teardown flag
// decides which caller wins. Disconnect callbacks run while the client is
// still registered, so they can inspect it; the registry entry is removed
// only after they return.
func (s *Server) teardown(clientID, code int, reason string) {
	client, ok := s.registry.GetClient(clientID)
	if !ok || !client.beginTeardown() {
		return
	}

	s.heartbeat.Unregister(clientID)
	s.metrics.ConnectionClosed()
	client.CloseWithStatus(code, reason)

	s.logger.Info("client disconnected", LogFields{
		LogFieldClientID:  clientID,
		LogFieldCloseCode: code,
		LogFieldReason:    reason,
	})

	s.fireCallbacks(Packet{
		From: BrokerID,
		To:   EventDisconnect.String(),
		Message: DisconnectInfo{
			ClientID: clientID,
			Code:     code,
			Reason:   reason,
		},
	})

	s.registry.RemoveClient(clientID)
}

func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, id := range s.heartbeat.DuePings(now) {
				client, ok := s.registry.GetClient(id)
				if !ok {
					s.heartbeat.Unregister(id)
					continue
				}
				if err := client.SendFrame(PingFrame); err != nil {
					s.teardown(id, CloseAbnormal, "ping write failed")
				}
			}

			for _, id := range s.heartbeat.Expired(now) {
				s.metrics.HeartbeatTimeout()
				s.logger.Warn("pong timeout", LogFields{
					LogFieldClientID: id,
				})
				s.teardown(id, ClosePongTimeout, "pong timeout")
			}
		}
	}
}

// Listen registers a server-side callback on a channel, creating the
// channel if it does not exist. Reserved names are accepted: a callback
// on "connect", "disconnect" or "reconnect" observes the corresponding
// lifecycle events.
func (s *Server) Listen(channel string, cb Callback) {
	_, created := s.registry.OpenOrGet(channel, cb)
	if created && !IsReservedName(channel) {
		s.metrics.ChannelOpened()
	}
}

// CreateChannel registers a new empty channel clients may subscribe to.
func (s *Server) CreateChannel(name string) error {
	if _, err := s.registry.CreateChannel(name); err != nil {
		return err
	}
	s.metrics.ChannelOpened()
	return nil
}

// CloseChannel deletes a channel. Every current subscriber is notified
// with a closed marker on the channel before removal takes effect for
// them. It reports whether the channel existed.
func (s *Server) CloseChannel(name string) bool {
	targets, ok := s.registry.RemoveChannel(name)
	if !ok {
		return false
	}

	s.sender.Enqueue(Packet{
		From:    BrokerID,
		To:      name,
		Message: map[string]any{"closed": true},
	}, targets)

	s.metrics.ChannelClosed()
	s.logger.Info("channel closed", LogFields{
		LogFieldChannel: name,
	})
	return true
}

// Channels returns the sorted names of the open channels.
func (s *Server) Channels() []string {
	return s.registry.Channels()
}

// HasChannel reports whether the named channel exists.
func (s *Server) HasChannel(name string) bool {
	_, ok := s.registry.GetChannel(name)
	return ok
}

// HasClient reports whether a client with the given id is connected.
func (s *Server) HasClient(id int) bool {
	_, ok := s.registry.GetClient(id)
	return ok
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.registry.ClientCount()
}

// DisableHeartbeat exempts one connected client from server pings and
// pong timeout reaping, for peers that cannot answer heartbeats.
func (s *Server) DisableHeartbeat(clientID int) {
	s.heartbeat.Unregister(clientID)
}

// Reconnects returns the number of reconnect announcements received
// since the server started.
func (s *Server) Reconnects() int64 {
	return s.reconnects.Load()
}

// Publish sends a broker-originated message to every subscriber of the
// channel.
func (s *Server) Publish(channel string, message any) error {
	return s.PublishExcept(channel, BrokerID, message)
}

// PublishExcept sends a message to every subscriber of the channel
// except the given client id.
func (s *Server) PublishExcept(channel string, exceptID int, message any) error {
	targets, ok := s.registry.SnapshotTargets(channel)
	if !ok {
		return ErrChannelNotFound
	}

	s.metrics.MessagePublished()
	s.sender.Enqueue(Packet{
		From:    exceptID,
		To:      channel,
		Message: message,
	}, targets)
	return nil
}

// PublishTo sends a message on the channel to a single client,
// regardless of its subscriptions. The message goes through the delivery
// queue, so it keeps its order relative to queued fan-out.
func (s *Server) PublishTo(clientID int, channel string, message any) error {
	client, ok := s.registry.GetClient(clientID)
	if !ok {
		return ErrNotConnected
	}

	s.metrics.MessagePublished()
	s.sender.Enqueue(Packet{
		From:    BrokerID,
		To:      channel,
		Message: message,
	}, map[int]FrameConn{clientID: client.Conn()})
	return nil
}

// Broadcast sends a message under the given key to every connected
// client, subscribed or not.
func (s *Server) Broadcast(channel string, message any) {
	s.BroadcastExcept(channel, BrokerID, message)
}

// BroadcastExcept broadcasts to every connected client except one.
func (s *Server) BroadcastExcept(channel string, exceptID int, message any) {
	s.metrics.MessagePublished()
	s.sender.Enqueue(Packet{
		From:    exceptID,
		To:      channel,
		Message: message,
	}, s.registry.ClientConns())
}

// Flush blocks until the delivery queue is drained.
func (s *Server) Flush() {
	s.sender.Flush()
}

// Close shuts the server down: listeners stop accepting, every client
// receives a normal-closure close, the delivery queue stops, and all
// server goroutines exit. Close is idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, lis := range listeners {
		lis.Close()
	}

	for id := range s.registry.ClientConns() {
		s.teardown(id, CloseNormal, "server shutting down")
	}

	s.sender.Close()
	s.wg.Wait()

	s.logger.Info("server closed", nil)
	return nil
}
