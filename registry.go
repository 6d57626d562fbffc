package chanbus

import (
	"sort"
	"sync"
)

// Registry owns the maps of live channels and clients. It is the single
// source of truth the broker core consults: every creation, lookup and
// teardown goes through it under one mutex, so id assignment and the
// channel/client cross-references never race.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	clients  map[int]*ServerClient
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		clients:  make(map[int]*ServerClient),
	}
}

// CreateChannel registers a new empty channel. It fails with
// ErrChannelExists if the name is taken and with ErrReservedChannel for
// protocol-internal names.
func (r *Registry) CreateChannel(name string) (*Channel, error) {
	if IsReservedName(name) {
		return nil, ErrReservedChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[name]; ok {
		return nil, ErrChannelExists
	}

	ch := newChannel(name)
	r.channels[name] = ch
	return ch, nil
}

// OpenOrGet returns the named channel, creating it if absent, and appends
// the callback if one is given. It is always valid to call repeatedly to
// stack more callbacks onto the same channel. The second return value
// reports whether this call created the channel. Reserved names are
// allowed here: callbacks on the internal pseudo-channels are how the
// server observes connect, disconnect and reconnect events.
func (r *Registry) OpenOrGet(name string, cb Callback) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		ch = newChannel(name)
		r.channels[name] = ch
	}
	if cb != nil {
		ch.callbacks = append(ch.callbacks, cb)
	}
	return ch, !ok
}

// RemoveChannel unsubscribes every member and deletes the channel,
// returning the subscriber snapshot taken at removal time so the caller
// can notify them. Reserved and absent names are silent no-ops.
func (r *Registry) RemoveChannel(name string) (map[int]FrameConn, bool) {
	if IsReservedName(name) {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return nil, false
	}

	targets := ch.snapshotSubscribers()
	for id := range ch.subscribers {
		if client, ok := r.clients[id]; ok {
			client.removeSubscription(name)
		}
	}
	delete(r.channels, name)
	return targets, true
}

// GetChannel returns the named channel if present.
func (r *Registry) GetChannel(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	return ch, ok
}

// Channels returns the sorted names of all channels, excluding the
// reserved control channels even when callbacks are registered under them.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		if IsReservedName(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterClient assigns the lowest positive id not held by any connected
// client and records the new client. Ids are reused after disconnect, but
// the scan guarantees a reused id never collides with a still-connected
// client, even when clients disconnect out of order.
func (r *Registry) RegisterClient(conn FrameConn) *ServerClient {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := 1
	for {
		if _, taken := r.clients[id]; !taken {
			break
		}
		id++
		if id <= 0 {
			// Wrapping the id space means the registry is corrupt: there
			// cannot be ~2^63 live clients.
			panic("chanbus: client id space exhausted")
		}
	}

	client := newServerClient(id, conn)
	r.clients[id] = client
	return client
}

// GetClient returns the client with the given id if connected.
func (r *Registry) GetClient(id int) (*ServerClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[id]
	return client, ok
}

// ClientCount returns the number of connected clients.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.clients)
}

// ClientConns returns a snapshot of every connected client's id and
// connection, for global broadcast.
func (r *Registry) ClientConns() map[int]FrameConn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make(map[int]FrameConn, len(r.clients))
	for id, client := range r.clients {
		conns[id] = client.conn
	}
	return conns
}

// Subscribe adds the client to the channel's subscriber map and records
// the channel in the client's subscription set, both under one lock.
func (r *Registry) Subscribe(channel string, clientID int) error {
	if IsReservedName(channel) {
		return ErrReservedChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channel]
	if !ok {
		return ErrChannelNotFound
	}

	client, ok := r.clients[clientID]
	if !ok {
		return ErrNotConnected
	}

	if _, ok := ch.subscribers[clientID]; ok {
		return ErrAlreadySubscribed
	}

	ch.subscribers[clientID] = client.conn
	client.addSubscription(channel)
	return nil
}

// Unsubscribe removes both sides of the subscription relationship.
func (r *Registry) Unsubscribe(channel string, clientID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channel]
	if !ok {
		return ErrChannelNotFound
	}

	if _, ok := ch.subscribers[clientID]; !ok {
		return ErrNotSubscribed
	}

	delete(ch.subscribers, clientID)
	if client, ok := r.clients[clientID]; ok {
		client.removeSubscription(channel)
	}
	return nil
}

// RemoveClient unsubscribes the client from every channel it belonged to,
// deletes it from the client registry and releases its id. The second
// return value is false when the id was already gone, which lets callers
// run disconnect teardown exactly once per client.
func (r *Registry) RemoveClient(clientID int) (*ServerClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}

	for _, name := range client.clearSubscriptions() {
		if ch, ok := r.channels[name]; ok {
			delete(ch.subscribers, clientID)
		}
	}
	delete(r.clients, clientID)
	return client, true
}

// SnapshotTargets resolves a channel's current subscriber map for
// delivery. The copy lets fan-out proceed outside the registry lock.
func (r *Registry) SnapshotTargets(channel string) (map[int]FrameConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channel]
	if !ok {
		return nil, false
	}
	return ch.snapshotSubscribers(), true
}

// SnapshotCallbacks returns the channel's callbacks in registration order.
func (r *Registry) SnapshotCallbacks(channel string) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channel]
	if !ok {
		return nil
	}
	return ch.snapshotCallbacks()
}
