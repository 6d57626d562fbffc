package chanbus

import (
	"sync"
	"time"
)

// delivery is one queue entry: a packet plus the subscriber set resolved
// at enqueue time.
type delivery struct {
	pkt      Packet
	targets  map[int]FrameConn
	enqueued time.Time
}

// Sender is the broker-wide delivery queue. All outbound fan-out funnels
// through one FIFO consumed by a single worker, so no connection ever
// receives two interleaved deliveries and the order any subscriber
// observes matches publish order system-wide, not just per channel.
//
// The queue is explicitly single-flight: the worker marks itself busy for
// the whole of one entry, and a publish that arrives mid-delivery is
// appended rather than delivered concurrently. This trades throughput
// under heavy multi-channel traffic for a total outbound order.
type Sender struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []delivery
	busy    bool
	closed  bool
	logger  Logger
	metrics *HubMetrics
	done    chan struct{}
}

// NewSender creates a delivery queue and starts its worker.
func NewSender(logger Logger, metrics *HubMetrics) *Sender {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if metrics == nil {
		metrics = NewHubMetrics(&NoOpMetrics{})
	}

	s := &Sender{
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.run()
	return s
}

// Enqueue appends a packet and its resolved target set to the tail of the
// FIFO. The worker picks it up as soon as the in-flight entry, if any,
// completes. Enqueue after Close is a no-op.
func (s *Sender) Enqueue(pkt Packet, targets map[int]FrameConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, delivery{pkt: pkt, targets: targets, enqueued: time.Now()})
	s.cond.Signal()
}

// Pending returns the number of queued entries, excluding the one in
// flight.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush blocks until the queue is drained and the worker is idle.
func (s *Sender) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 || s.busy {
		s.cond.Wait()
	}
}

// Close stops the worker after the in-flight entry completes. Remaining
// entries are dropped.
func (s *Sender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done
}

func (s *Sender) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}

		entry := s.queue[0]
		s.queue = s.queue[1:]
		s.busy = true
		s.mu.Unlock()

		s.deliver(entry)

		s.mu.Lock()
		s.busy = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// deliver fans one packet out to every resolved target except the sender.
// A write failure for one subscriber is logged and skipped; it never
// aborts delivery to the rest.
func (s *Sender) deliver(entry delivery) {
	frame, err := EncodeFrame(entry.pkt.To, entry.pkt.Message)
	if err != nil {
		s.logger.Error("encode delivery frame", LogFields{
			LogFieldChannel: entry.pkt.To,
			LogFieldError:   err.Error(),
		})
		return
	}

	for id, conn := range entry.targets {
		if id == entry.pkt.From {
			// A client never receives its own publish echoed back.
			continue
		}

		if err := conn.WriteFrame(frame); err != nil {
			s.metrics.WriteDropped()
			s.logger.Warn("delivery write failed", LogFields{
				LogFieldChannel:  entry.pkt.To,
				LogFieldClientID: id,
				LogFieldError:    err.Error(),
			})
			continue
		}
		s.metrics.MessageDelivered()
	}

	if !entry.enqueued.IsZero() {
		s.metrics.DeliveryLatency(time.Since(entry.enqueued))
	}
}
