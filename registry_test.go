package chanbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryChannels(t *testing.T) {
	t.Run("create channel", func(t *testing.T) {
		r := NewRegistry()

		ch, err := r.CreateChannel("users")
		require.NoError(t, err)
		assert.Equal(t, "users", ch.Name())

		_, ok := r.GetChannel("users")
		assert.True(t, ok)
	})

	t.Run("duplicate channel", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.CreateChannel("users")
		require.NoError(t, err)

		_, err = r.CreateChannel("users")
		assert.ErrorIs(t, err, ErrChannelExists)
	})

	t.Run("reserved names rejected", func(t *testing.T) {
		r := NewRegistry()

		for _, name := range []string{"connect", "disconnect", "error", "listening_to", "pong", "reconnect"} {
			_, err := r.CreateChannel(name)
			assert.ErrorIs(t, err, ErrReservedChannel, name)
		}
	})

	t.Run("channel list sorted and excludes reserved", func(t *testing.T) {
		r := NewRegistry()

		r.OpenOrGet("zebra", nil)
		r.OpenOrGet("alpha", nil)
		r.OpenOrGet("connect", func(Packet) {})

		assert.Equal(t, []string{"alpha", "zebra"}, r.Channels())
	})

	t.Run("open or get stacks callbacks", func(t *testing.T) {
		r := NewRegistry()

		r.OpenOrGet("users", func(Packet) {})
		r.OpenOrGet("users", func(Packet) {})

		assert.Len(t, r.SnapshotCallbacks("users"), 2)
	})

	t.Run("open or get reports creation", func(t *testing.T) {
		r := NewRegistry()

		_, created := r.OpenOrGet("users", nil)
		assert.True(t, created)

		_, created = r.OpenOrGet("users", func(Packet) {})
		assert.False(t, created)
	})

	t.Run("remove channel returns subscriber snapshot", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("users", nil)

		client := r.RegisterClient(newFakeConn())
		require.NoError(t, r.Subscribe("users", client.ID()))

		targets, ok := r.RemoveChannel("users")
		require.True(t, ok)
		assert.Len(t, targets, 1)

		assert.False(t, client.Subscribed("users"))
		_, ok = r.GetChannel("users")
		assert.False(t, ok)
	})

	t.Run("remove absent channel is noop", func(t *testing.T) {
		r := NewRegistry()

		_, ok := r.RemoveChannel("nothing")
		assert.False(t, ok)
	})

	t.Run("remove reserved channel is noop", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("disconnect", func(Packet) {})

		_, ok := r.RemoveChannel("disconnect")
		assert.False(t, ok)
	})
}

func TestRegistryClientIDs(t *testing.T) {
	t.Run("ids start at one and increment", func(t *testing.T) {
		r := NewRegistry()

		a := r.RegisterClient(newFakeConn())
		b := r.RegisterClient(newFakeConn())
		c := r.RegisterClient(newFakeConn())

		assert.Equal(t, 1, a.ID())
		assert.Equal(t, 2, b.ID())
		assert.Equal(t, 3, c.ID())
	})

	t.Run("lowest free id is reused", func(t *testing.T) {
		r := NewRegistry()

		a := r.RegisterClient(newFakeConn())
		r.RegisterClient(newFakeConn())

		_, ok := r.RemoveClient(a.ID())
		require.True(t, ok)

		reused := r.RegisterClient(newFakeConn())
		assert.Equal(t, 1, reused.ID())

		next := r.RegisterClient(newFakeConn())
		assert.Equal(t, 3, next.ID())
	})

	t.Run("remove is exactly once", func(t *testing.T) {
		r := NewRegistry()
		client := r.RegisterClient(newFakeConn())

		_, ok := r.RemoveClient(client.ID())
		assert.True(t, ok)

		_, ok = r.RemoveClient(client.ID())
		assert.False(t, ok)
	})

	t.Run("remove clears subscriptions", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("users", nil)

		client := r.RegisterClient(newFakeConn())
		require.NoError(t, r.Subscribe("users", client.ID()))

		_, ok := r.RemoveClient(client.ID())
		require.True(t, ok)

		targets, ok := r.SnapshotTargets("users")
		require.True(t, ok)
		assert.Empty(t, targets)
	})

	t.Run("client count", func(t *testing.T) {
		r := NewRegistry()
		assert.Equal(t, 0, r.ClientCount())

		r.RegisterClient(newFakeConn())
		r.RegisterClient(newFakeConn())
		assert.Equal(t, 2, r.ClientCount())
	})
}

func TestRegistrySubscribe(t *testing.T) {
	t.Run("subscribe records both sides", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("users", nil)

		client := r.RegisterClient(newFakeConn())
		require.NoError(t, r.Subscribe("users", client.ID()))

		assert.True(t, client.Subscribed("users"))

		targets, ok := r.SnapshotTargets("users")
		require.True(t, ok)
		assert.Contains(t, targets, client.ID())
	})

	t.Run("unknown channel", func(t *testing.T) {
		r := NewRegistry()
		client := r.RegisterClient(newFakeConn())

		err := r.Subscribe("nothing", client.ID())
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("unknown client", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("users", nil)

		err := r.Subscribe("users", 42)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("reserved channel", func(t *testing.T) {
		r := NewRegistry()
		client := r.RegisterClient(newFakeConn())

		err := r.Subscribe("listening_to", client.ID())
		assert.ErrorIs(t, err, ErrReservedChannel)
	})

	t.Run("double subscribe", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("users", nil)

		client := r.RegisterClient(newFakeConn())
		require.NoError(t, r.Subscribe("users", client.ID()))

		err := r.Subscribe("users", client.ID())
		assert.ErrorIs(t, err, ErrAlreadySubscribed)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		r := NewRegistry()
		r.OpenOrGet("users", nil)

		client := r.RegisterClient(newFakeConn())
		require.NoError(t, r.Subscribe("users", client.ID()))
		require.NoError(t, r.Unsubscribe("users", client.ID()))

		assert.False(t, client.Subscribed("users"))

		err := r.Unsubscribe("users", client.ID())
		assert.ErrorIs(t, err, ErrNotSubscribed)
	})
}
