package chanbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatManager(t *testing.T) {
	now := time.Now()

	t.Run("register and unregister", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)

		m.Register(1)
		assert.True(t, m.Tracked(1))
		assert.Equal(t, 1, m.Count())

		m.Unregister(1)
		assert.False(t, m.Tracked(1))
		assert.Equal(t, 0, m.Count())
	})

	t.Run("fresh client is due a ping", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Register(1)

		due := m.DuePings(now)
		assert.Equal(t, []int{1}, due)
		assert.True(t, m.PongPending(1))
	})

	t.Run("no second ping while one is outstanding", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Register(1)

		m.DuePings(now)
		due := m.DuePings(now.Add(time.Millisecond))
		assert.Empty(t, due)
	})

	t.Run("pong rearms the next ping", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Register(1)

		m.DuePings(now)
		m.Pong(1)
		assert.False(t, m.PongPending(1))

		due := m.DuePings(now.Add(time.Millisecond))
		assert.Equal(t, []int{1}, due)
	})

	t.Run("pong from untracked client is ignored", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Pong(99)
		assert.False(t, m.Tracked(99))
	})

	t.Run("missed pong expires after the timeout", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Register(1)
		m.DuePings(now)

		assert.Empty(t, m.Expired(now.Add(500*time.Millisecond)))

		expired := m.Expired(now.Add(1500 * time.Millisecond))
		assert.Equal(t, []int{1}, expired)
	})

	t.Run("expiry is exactly once", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Register(1)
		m.DuePings(now)

		late := now.Add(2 * time.Second)
		assert.Equal(t, []int{1}, m.Expired(late))
		assert.Empty(t, m.Expired(late))
		assert.False(t, m.Tracked(1))
	})

	t.Run("answered client never expires", func(t *testing.T) {
		m := NewHeartbeatManager(time.Second)
		m.Register(1)
		m.DuePings(now)
		m.Pong(1)

		assert.Empty(t, m.Expired(now.Add(time.Hour)))
	})
}
