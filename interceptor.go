package chanbus

import "log"

// InboundInterceptor intercepts packets after they are decoded from a
// client frame but before channel callbacks run and the packet is queued
// for fan-out. Interceptors are called in configuration order; each
// receives the packet from the previous one. Returning a nil pointer
// drops the packet.
type InboundInterceptor interface {
	// OnReceive is called for every decoded publish. The packet may be
	// replaced; return nil to drop it.
	OnReceive(pkt *Packet) *Packet
}

// OutboundInterceptor intercepts packets as they are enqueued for
// delivery, before fan-out. Returning nil drops the packet.
type OutboundInterceptor interface {
	// OnSend is called for every packet about to be fanned out.
	OnSend(pkt *Packet) *Packet
}

// InboundInterceptorFunc is a function type that implements
// InboundInterceptor.
type InboundInterceptorFunc func(pkt *Packet) *Packet

// OnReceive calls the underlying function.
func (f InboundInterceptorFunc) OnReceive(pkt *Packet) *Packet {
	return f(pkt)
}

// OutboundInterceptorFunc is a function type that implements
// OutboundInterceptor.
type OutboundInterceptorFunc func(pkt *Packet) *Packet

// OnSend calls the underlying function.
func (f OutboundInterceptorFunc) OnSend(pkt *Packet) *Packet {
	return f(pkt)
}

// safelyApplyInbound applies an inbound interceptor with panic recovery.
// If the interceptor panics, the original packet passes through unchanged.
func safelyApplyInbound(interceptor InboundInterceptor, pkt *Packet) (result *Packet) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("chanbus: inbound interceptor panic: %v", r)
			result = pkt
		}
	}()
	return interceptor.OnReceive(pkt)
}

// safelyApplyOutbound applies an outbound interceptor with panic recovery.
func safelyApplyOutbound(interceptor OutboundInterceptor, pkt *Packet) (result *Packet) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("chanbus: outbound interceptor panic: %v", r)
			result = pkt
		}
	}()
	return interceptor.OnSend(pkt)
}

// applyInboundInterceptors applies all inbound interceptors in order.
// If any interceptor returns nil, the chain is broken and nil is returned.
func applyInboundInterceptors(interceptors []InboundInterceptor, pkt *Packet) *Packet {
	if len(interceptors) == 0 {
		return pkt
	}
	current := pkt
	for _, interceptor := range interceptors {
		if current == nil {
			return nil
		}
		current = safelyApplyInbound(interceptor, current)
	}
	return current
}

// applyOutboundInterceptors applies all outbound interceptors in order.
func applyOutboundInterceptors(interceptors []OutboundInterceptor, pkt *Packet) *Packet {
	if len(interceptors) == 0 {
		return pkt
	}
	current := pkt
	for _, interceptor := range interceptors {
		if current == nil {
			return nil
		}
		current = safelyApplyOutbound(interceptor, current)
	}
	return current
}
