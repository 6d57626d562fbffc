// Package chanbus implements a publish/subscribe message broker that
// multiplexes many named channels over a single persistent framed
// connection per client.
//
// A server process opens channels with Listen, clients subscribe to them
// and publish on them, and the broker routes messages between clients and
// server-side callbacks. Each client holds exactly one connection; all of
// its channel traffic is interleaved as discrete text frames on that
// connection.
//
// # Wire protocol
//
// Frames are UTF-8 text. The broker sends the literal "ping" and expects
// the literal "pong" in return. Every other frame is a single-key JSON
// object:
//
//	{"listening_to": "chat"}     subscribe to channel "chat"
//	{"chat": {"text": "hi"}}     publish to channel "chat"
//	{"error": "..."}             error report from the broker
//
// Deliveries use the same {channel: message} shape. Six channel names are
// reserved for protocol control and are never listed or user-addressable:
// connect, disconnect, error, listening_to, pong, reconnect.
//
// # Server
//
// The server accepts connections from any Listener (WebSocket, TCP, TLS,
// Unix socket, QUIC) and serves each client on its own goroutine:
//
//	srv := chanbus.NewServer(
//		chanbus.WithListener(listener),
//	)
//	srv.Listen("chat", func(pkt chanbus.Packet) {
//		log.Printf("chat from %d: %v", pkt.From, pkt.Message)
//	})
//	go srv.ListenAndServe()
//
// Outbound fan-out is serialized through a single delivery queue, so every
// subscriber observes messages in publish order and no two deliveries
// interleave on one connection.
//
// # Client
//
// Client is a wire-level client for the broker protocol:
//
//	cli, err := chanbus.Dial(ctx, "ws://localhost:8080/bus")
//	cli.Listen("chat", func(message any) { ... })
//	cli.Emit("chat", map[string]any{"text": "hi"})
package chanbus
