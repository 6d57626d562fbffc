package chanbus

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineConn(t *testing.T) {
	t.Run("frames round trip", func(t *testing.T) {
		left, right := net.Pipe()
		a := NewLineConn(left, 0)
		b := NewLineConn(right, 0)
		defer a.Close()
		defer b.Close()

		go func() {
			a.WriteFrame(`{"chat": "hello"}`)
			a.WriteFrame(`{"chat": "world"}`)
		}()

		frame, err := b.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, `{"chat": "hello"}`, frame)

		frame, err = b.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, `{"chat": "world"}`, frame)
	})

	t.Run("oversized write rejected locally", func(t *testing.T) {
		left, right := net.Pipe()
		conn := NewLineConn(left, 16)
		defer conn.Close()
		defer right.Close()

		err := conn.WriteFrame(strings.Repeat("x", 64))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("read after peer close", func(t *testing.T) {
		left, right := net.Pipe()
		conn := NewLineConn(left, 0)
		defer conn.Close()

		right.Close()

		_, err := conn.ReadFrame()
		assert.Error(t, err)
	})
}

func TestTCPTransport(t *testing.T) {
	lis, err := NewTCPListener("127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	accepted := make(chan FrameConn, 1)
	go func() {
		conn, aerr := lis.Accept()
		if aerr == nil {
			accepted <- conn
		}
	}()

	dialer := &TCPDialer{}
	client, err := dialer.Dial(t.Context(), lis.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, client.WriteFrame(`{"listening_to": "chat"}`))

	frame, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"listening_to": "chat"}`, frame)

	require.NoError(t, server.WriteFrame("ping"))

	frame, err = client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "ping", frame)
}

func TestServerOverTCP(t *testing.T) {
	lis, err := NewTCPListener("127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(WithHeartbeatDisabled(), WithListener(lis))
	defer srv.Close()
	require.NoError(t, srv.CreateChannel("chat"))

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.ListenAndServe()
	}()

	url := "tcp://" + lis.Addr().String()

	received := make(chan any, 1)
	alice, err := Dial(t.Context(), url)
	require.NoError(t, err)
	defer alice.Close()

	bob, err := Dial(t.Context(), url)
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.Listen("chat", func(message any) {
		received <- message
	}))
	require.Eventually(t, func() bool {
		targets, _ := srv.registry.SnapshotTargets("chat")
		return len(targets) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, alice.Emit("chat", map[string]any{"text": "over tcp"}))

	select {
	case message := <-received:
		payload := message.(map[string]any)
		assert.Equal(t, "over tcp", payload["text"])
		assert.Equal(t, float64(1), payload["sender"])
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}

	srv.Close()
	assert.ErrorIs(t, <-serveDone, ErrServerClosed)
}
