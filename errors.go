package chanbus

import "errors"

var (
	// ErrServerClosed is returned by server operations after Close.
	ErrServerClosed = errors.New("chanbus: server closed")

	// ErrNotConnected is returned when writing to a client that has
	// already disconnected.
	ErrNotConnected = errors.New("chanbus: client not connected")

	// ErrChannelExists is returned by CreateChannel for a name that is
	// already registered.
	ErrChannelExists = errors.New("chanbus: channel already exists")

	// ErrChannelNotFound is returned for operations on a channel the
	// server has not created a listener for.
	ErrChannelNotFound = errors.New("chanbus: channel not found")

	// ErrAlreadySubscribed is returned when a client subscribes to a
	// channel it already listens to.
	ErrAlreadySubscribed = errors.New("chanbus: already subscribed")

	// ErrNotSubscribed is returned when unsubscribing a client that does
	// not listen to the channel.
	ErrNotSubscribed = errors.New("chanbus: not subscribed")

	// ErrReservedChannel is returned when user traffic addresses one of
	// the protocol-internal channel names.
	ErrReservedChannel = errors.New("chanbus: reserved channel name")

	// ErrFrameTooLarge is returned when a frame exceeds the configured
	// maximum size.
	ErrFrameTooLarge = errors.New("chanbus: frame exceeds maximum size")

	// ErrMalformedFrame is returned when a frame is neither a ping/pong
	// literal nor a single-key JSON object.
	ErrMalformedFrame = errors.New("chanbus: malformed frame")
)
