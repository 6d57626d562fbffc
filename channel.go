package chanbus

// Channel is a named pub/sub topic: the set of subscribed client
// connections plus the server-side callbacks invoked on publish.
//
// Subscribers map client ids to connection handles rather than to client
// objects, so channel fan-out never touches full client state. All
// mutation goes through the Registry under its lock; Channel itself has
// no locking.
type Channel struct {
	name        string
	subscribers map[int]FrameConn
	callbacks   []Callback
}

func newChannel(name string) *Channel {
	return &Channel{
		name:        name,
		subscribers: make(map[int]FrameConn),
	}
}

// Name returns the channel name.
func (ch *Channel) Name() string {
	return ch.name
}

// SubscriberCount returns the number of subscribed clients.
func (ch *Channel) SubscriberCount() int {
	return len(ch.subscribers)
}

// snapshotSubscribers copies the subscriber map so fan-out can proceed
// without holding the registry lock. A subscriber removed after the
// snapshot gets a best-effort skipped delivery, never a crash.
func (ch *Channel) snapshotSubscribers() map[int]FrameConn {
	targets := make(map[int]FrameConn, len(ch.subscribers))
	for id, conn := range ch.subscribers {
		targets[id] = conn
	}
	return targets
}

// snapshotCallbacks copies the callback list in registration order.
func (ch *Channel) snapshotCallbacks() []Callback {
	if len(ch.callbacks) == 0 {
		return nil
	}
	cbs := make([]Callback, len(ch.callbacks))
	copy(cbs, ch.callbacks)
	return cbs
}
