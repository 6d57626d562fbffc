package chanbus

import "fmt"

// BrokerID is the sender id used for packets originated by the broker
// itself rather than a connected client. It never collides with a client
// id, so broker packets are delivered to every subscriber during fan-out.
const BrokerID = -1

// Packet is an immutable envelope describing one message: who sent it,
// which channel it is addressed to, and its payload. It carries only the
// channel name, not a channel reference, so it never dangles after a
// channel is closed; the target set is re-resolved at delivery time.
type Packet struct {
	// From is the id of the originating client, or BrokerID for packets
	// published by the server.
	From int

	// To is the destination channel name.
	To string

	// Message is the payload: any JSON-representable value.
	Message any
}

// FromBroker reports whether the packet was originated by the server.
func (p Packet) FromBroker() bool {
	return p.From == BrokerID
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{from=%d to=%q}", p.From, p.To)
}

// Callback is a server-side handler invoked synchronously, in registration
// order, whenever a packet is published to the channel it is registered on.
type Callback func(pkt Packet)

// ReservedEvent identifies one of the protocol-internal control channels.
// Frame routing dispatches over this closed set before consulting user
// channels, so control handling is exhaustive rather than string
// comparison fall-through.
type ReservedEvent int

const (
	// EventConnect fires when a new client completes registration.
	EventConnect ReservedEvent = iota
	// EventDisconnect fires when a connection closes for any reason.
	EventDisconnect
	// EventError carries a decode or dispatch failure back to one client.
	EventError
	// EventListeningTo is a client subscription request.
	EventListeningTo
	// EventPong is a client's answer to a broker ping.
	EventPong
	// EventReconnect is a client's announcement of a reconnection.
	EventReconnect
)

// String returns the wire name of the reserved event.
func (e ReservedEvent) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	case EventListeningTo:
		return "listening_to"
	case EventPong:
		return "pong"
	case EventReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

var reservedEvents = map[string]ReservedEvent{
	"connect":      EventConnect,
	"disconnect":   EventDisconnect,
	"error":        EventError,
	"listening_to": EventListeningTo,
	"pong":         EventPong,
	"reconnect":    EventReconnect,
}

// ParseReservedEvent maps a wire name to its reserved event. The second
// return value is false for ordinary user channel names.
func ParseReservedEvent(name string) (ReservedEvent, bool) {
	ev, ok := reservedEvents[name]
	return ev, ok
}

// IsReservedName reports whether name is one of the six protocol-internal
// channel names.
func IsReservedName(name string) bool {
	_, ok := reservedEvents[name]
	return ok
}

// DisconnectInfo is the payload delivered to callbacks registered on the
// internal disconnect channel.
type DisconnectInfo struct {
	ClientID int    `json:"client_id"`
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
}

// Connection close codes, following WebSocket status code numbering.
const (
	// CloseNormal is sent when the server shuts down or a channel-level
	// teardown completes cleanly.
	CloseNormal = 1000

	// CloseAbnormal is the synthetic code used when a connection drops
	// without a close handshake (read failure).
	CloseAbnormal = 1006

	// ClosePolicyViolation is sent when a connection is rejected before
	// registration, such as a failed authentication or a full server.
	ClosePolicyViolation = 1008

	// ClosePongTimeout is the synthetic code used when a client fails to
	// answer a ping within the pong timeout.
	ClosePongTimeout = 4000
)
