package chanbus

import (
	"sync"
	"time"
)

// Heartbeat defaults.
const (
	DefaultPingInterval = 2 * time.Second
	DefaultPongTimeout  = 4 * time.Second
)

// heartbeatState is the per-client liveness state.
type heartbeatState int

const (
	// stateAwaitingNextPing means the client answered the last ping (or
	// was just registered) and is waiting for the next probe.
	stateAwaitingNextPing heartbeatState = iota

	// stateAwaitingPong means a ping is outstanding and the pong deadline
	// is running.
	stateAwaitingPong
)

type heartbeatEntry struct {
	state    heartbeatState
	alive    bool
	deadline time.Time
}

// HeartbeatManager tracks ping/pong liveness per client. The server
// drives it from a ticker: each tick collects the clients due for a ping
// and the clients whose pong deadline has passed.
type HeartbeatManager struct {
	mu          sync.Mutex
	clients     map[int]*heartbeatEntry
	pongTimeout time.Duration
}

// NewHeartbeatManager creates a manager with the given pong timeout.
func NewHeartbeatManager(pongTimeout time.Duration) *HeartbeatManager {
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}
	return &HeartbeatManager{
		clients:     make(map[int]*heartbeatEntry),
		pongTimeout: pongTimeout,
	}
}

// Register starts tracking a client. A freshly registered client counts
// as alive and awaits its first ping.
func (m *HeartbeatManager) Register(clientID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[clientID] = &heartbeatEntry{
		state: stateAwaitingNextPing,
		alive: true,
	}
}

// Unregister stops tracking a client.
func (m *HeartbeatManager) Unregister(clientID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clients, clientID)
}

// Tracked reports whether the client is heartbeat-tracked.
func (m *HeartbeatManager) Tracked(clientID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.clients[clientID]
	return ok
}

// Pong records a pong from the client: the liveness flag is set and the
// state machine returns to awaiting the next ping. A pong from an
// untracked or not-pinged client is ignored.
func (m *HeartbeatManager) Pong(clientID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.clients[clientID]
	if !ok {
		return
	}
	entry.alive = true
	entry.state = stateAwaitingNextPing
}

// PongPending reports whether the client has an unanswered ping.
func (m *HeartbeatManager) PongPending(clientID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.clients[clientID]
	if !ok {
		return false
	}
	return entry.state == stateAwaitingPong
}

// DuePings transitions every alive client awaiting its next ping into the
// awaiting-pong state, starting their pong deadline at now+pongTimeout,
// and returns their ids. The caller sends the actual ping frames.
func (m *HeartbeatManager) DuePings(now time.Time) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []int
	for id, entry := range m.clients {
		if entry.state != stateAwaitingNextPing || !entry.alive {
			continue
		}
		entry.alive = false
		entry.state = stateAwaitingPong
		entry.deadline = now.Add(m.pongTimeout)
		due = append(due, id)
	}
	return due
}

// Expired returns the clients whose pong deadline has passed and stops
// tracking them, so each missed pong produces exactly one teardown.
func (m *HeartbeatManager) Expired(now time.Time) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []int
	for id, entry := range m.clients {
		if entry.state == stateAwaitingPong && now.After(entry.deadline) {
			expired = append(expired, id)
			delete(m.clients, id)
		}
	}
	return expired
}

// Count returns the number of tracked clients.
func (m *HeartbeatManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.clients)
}
