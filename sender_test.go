package chanbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender(t *testing.T) {
	t.Run("delivers to every target except the sender", func(t *testing.T) {
		s := NewSender(nil, nil)
		defer s.Close()

		sender := newFakeConn()
		other := newFakeConn()

		s.Enqueue(Packet{From: 1, To: "chat", Message: "hello"}, map[int]FrameConn{
			1: sender,
			2: other,
		})
		s.Flush()

		assert.Empty(t, sender.frames())

		require.Len(t, other.frames(), 1)
		assert.JSONEq(t, `{"chat": "hello"}`, other.frames()[0])
	})

	t.Run("broker packets reach every target", func(t *testing.T) {
		s := NewSender(nil, nil)
		defer s.Close()

		a := newFakeConn()
		b := newFakeConn()

		s.Enqueue(Packet{From: BrokerID, To: "chat", Message: "notice"}, map[int]FrameConn{
			1: a,
			2: b,
		})
		s.Flush()

		assert.Len(t, a.frames(), 1)
		assert.Len(t, b.frames(), 1)
	})

	t.Run("queue preserves publish order", func(t *testing.T) {
		s := NewSender(nil, nil)
		defer s.Close()

		conn := newFakeConn()
		targets := map[int]FrameConn{2: conn}

		for i := 0; i < 20; i++ {
			s.Enqueue(Packet{From: 1, To: "chat", Message: i}, targets)
		}
		s.Flush()

		frames := conn.frames()
		require.Len(t, frames, 20)
		for i, frame := range frames {
			assert.JSONEq(t, fmt.Sprintf(`{"chat": %d}`, i), frame)
		}
	})

	t.Run("write failure skips only the failing target", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		s := NewSender(nil, NewHubMetrics(metrics))
		defer s.Close()

		broken := newFakeConn()
		broken.failWrites = true
		healthy := newFakeConn()

		s.Enqueue(Packet{From: 1, To: "chat", Message: "hi"}, map[int]FrameConn{
			2: broken,
			3: healthy,
		})
		s.Flush()

		assert.Len(t, healthy.frames(), 1)

		dropped := metrics.GetCounter("chanbus_writes_dropped_total", nil)
		require.NotNil(t, dropped)
		assert.Equal(t, float64(1), dropped.Value())
	})

	t.Run("unencodable payload drops the delivery", func(t *testing.T) {
		s := NewSender(nil, nil)
		defer s.Close()

		conn := newFakeConn()
		s.Enqueue(Packet{From: 1, To: "chat", Message: func() {}}, map[int]FrameConn{2: conn})
		s.Flush()

		assert.Empty(t, conn.frames())
	})

	t.Run("enqueue after close is a noop", func(t *testing.T) {
		s := NewSender(nil, nil)
		s.Close()

		conn := newFakeConn()
		s.Enqueue(Packet{From: 1, To: "chat", Message: "hi"}, map[int]FrameConn{2: conn})
		time.Sleep(20 * time.Millisecond)

		assert.Empty(t, conn.frames())
		assert.Equal(t, 0, s.Pending())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		s := NewSender(nil, nil)
		s.Close()
		s.Close()
	})
}
