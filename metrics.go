package chanbus

import (
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// MetricTypeCounter is a monotonically increasing counter.
	MetricTypeCounter MetricType = 0
	// MetricTypeGauge is a value that can go up and down.
	MetricTypeGauge MetricType = 1
	// MetricTypeHistogram tracks distribution of values.
	MetricTypeHistogram MetricType = 2
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add adds the given value to the counter.
	Add(delta float64)

	// Value returns the current value.
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()

	// Add adds the given value to the gauge.
	Add(delta float64)

	// Sub subtracts the given value from the gauge.
	Sub(delta float64)

	// Value returns the current value.
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	// Observe records a value.
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	// Count returns the number of observations.
	Count() uint64

	// Sum returns the sum of all observations.
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter {
	return &noOpCounter{}
}

// Gauge returns a no-op gauge.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge {
	return &noOpGauge{}
}

// Histogram returns a no-op histogram.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram {
	return &noOpHistogram{}
}

type noOpCounter struct{}

func (n *noOpCounter) Inc()           {}
func (n *noOpCounter) Add(_ float64)  {}
func (n *noOpCounter) Value() float64 { return 0 }

type noOpGauge struct{}

func (n *noOpGauge) Set(_ float64)  {}
func (n *noOpGauge) Inc()           {}
func (n *noOpGauge) Dec()           {}
func (n *noOpGauge) Add(_ float64)  {}
func (n *noOpGauge) Sub(_ float64)  {}
func (n *noOpGauge) Value() float64 { return 0 }

type noOpHistogram struct{}

func (n *noOpHistogram) Observe(_ float64)               {}
func (n *noOpHistogram) ObserveDuration(_ time.Duration) {}
func (n *noOpHistogram) Count() uint64                   { return 0 }
func (n *noOpHistogram) Sum() float64                    { return 0 }

// Standard metric names for the broker.
const (
	// MetricConnections is the current number of active connections.
	MetricConnections = "chanbus_connections"

	// MetricConnectionsTotal is the total number of connections.
	MetricConnectionsTotal = "chanbus_connections_total"

	// MetricChannels is the current number of user channels.
	MetricChannels = "chanbus_channels"

	// MetricMessagesPublished is the total number of packets published.
	MetricMessagesPublished = "chanbus_messages_published_total"

	// MetricMessagesDelivered is the total number of fan-out deliveries.
	MetricMessagesDelivered = "chanbus_messages_delivered_total"

	// MetricWritesDropped is the total number of failed subscriber writes
	// skipped during fan-out.
	MetricWritesDropped = "chanbus_writes_dropped_total"

	// MetricProtocolErrors is the total number of malformed or
	// unroutable frames.
	MetricProtocolErrors = "chanbus_protocol_errors_total"

	// MetricHeartbeatTimeouts is the total number of clients reaped for
	// a missed pong.
	MetricHeartbeatTimeouts = "chanbus_heartbeat_timeouts_total"

	// MetricReconnects is the total number of reconnect announcements.
	MetricReconnects = "chanbus_reconnects_total"

	// MetricDeliveryLatency is the per-entry fan-out latency.
	MetricDeliveryLatency = "chanbus_delivery_latency_seconds"
)

// Standard metric labels.
const (
	// LabelChannel is the channel name label.
	LabelChannel = "channel"

	// LabelEvent is the reserved event label.
	LabelEvent = "event"
)

// HubMetrics provides convenience methods for common broker metrics.
type HubMetrics struct {
	metrics Metrics
}

// NewHubMetrics creates a new HubMetrics instance.
func NewHubMetrics(m Metrics) *HubMetrics {
	return &HubMetrics{metrics: m}
}

// ConnectionOpened records a new connection.
func (h *HubMetrics) ConnectionOpened() {
	h.metrics.Gauge(MetricConnections, nil).Inc()
	h.metrics.Counter(MetricConnectionsTotal, nil).Inc()
}

// ConnectionClosed records a closed connection.
func (h *HubMetrics) ConnectionClosed() {
	h.metrics.Gauge(MetricConnections, nil).Dec()
}

// ChannelOpened records a new user channel.
func (h *HubMetrics) ChannelOpened() {
	h.metrics.Gauge(MetricChannels, nil).Inc()
}

// ChannelClosed records a removed user channel.
func (h *HubMetrics) ChannelClosed() {
	h.metrics.Gauge(MetricChannels, nil).Dec()
}

// MessagePublished records a packet accepted for delivery.
func (h *HubMetrics) MessagePublished() {
	h.metrics.Counter(MetricMessagesPublished, nil).Inc()
}

// MessageDelivered records one successful fan-out write.
func (h *HubMetrics) MessageDelivered() {
	h.metrics.Counter(MetricMessagesDelivered, nil).Inc()
}

// WriteDropped records a failed subscriber write skipped during fan-out.
func (h *HubMetrics) WriteDropped() {
	h.metrics.Counter(MetricWritesDropped, nil).Inc()
}

// ProtocolError records a malformed or unroutable frame.
func (h *HubMetrics) ProtocolError() {
	h.metrics.Counter(MetricProtocolErrors, nil).Inc()
}

// HeartbeatTimeout records a client reaped for a missed pong.
func (h *HubMetrics) HeartbeatTimeout() {
	h.metrics.Counter(MetricHeartbeatTimeouts, nil).Inc()
}

// Reconnect records a reconnect announcement.
func (h *HubMetrics) Reconnect() {
	h.metrics.Counter(MetricReconnects, nil).Inc()
}

// DeliveryLatency records the time one queue entry took to fan out.
func (h *HubMetrics) DeliveryLatency(d time.Duration) {
	h.metrics.Histogram(MetricDeliveryLatency, nil).ObserveDuration(d)
}
