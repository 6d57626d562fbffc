package chanbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientReconnect(t *testing.T) {
	lis, err := NewTCPListener("127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(WithHeartbeatDisabled(), WithListener(lis))
	defer srv.Close()
	require.NoError(t, srv.CreateChannel("chat"))

	go srv.ListenAndServe()

	reconnected := make(chan int, 1)
	received := make(chan any, 1)

	client, err := Dial(t.Context(), "tcp://"+lis.Addr().String(),
		WithReconnect(),
		WithReconnectWait(10*time.Millisecond, 50*time.Millisecond),
		OnClientReconnect(func(attempt int) {
			reconnected <- attempt
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Listen("chat", func(message any) {
		received <- message
	}))
	require.Eventually(t, func() bool {
		targets, _ := srv.registry.SnapshotTargets("chat")
		return len(targets) == 1
	}, time.Second, time.Millisecond)

	// Drop the client server-side; the SDK should dial back in,
	// resubscribe and announce itself.
	srv.teardown(1, CloseAbnormal, "dropped for test")

	select {
	case attempt := <-reconnected:
		assert.GreaterOrEqual(t, attempt, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("client never reconnected")
	}

	require.Eventually(t, func() bool {
		targets, _ := srv.registry.SnapshotTargets("chat")
		return len(targets) == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return srv.Reconnects() == 1
	}, time.Second, time.Millisecond)

	// The resubscribed channel still delivers.
	require.NoError(t, srv.Publish("chat", "after the fall"))
	select {
	case message := <-received:
		assert.Equal(t, "after the fall", message)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived after reconnect")
	}
}
