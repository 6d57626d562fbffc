package chanbus

import (
	"encoding/json"
	"fmt"
)

// Heartbeat literals. They are exchanged as bare text frames, never as
// JSON, so "pong" the literal and "pong" the reserved key are both routed
// to liveness handling.
const (
	PingFrame = "ping"
	PongFrame = "pong"
)

// defaultMaxFrameSize bounds a single inbound frame when no limit is
// configured.
const defaultMaxFrameSize = 1 << 20

// FrameKind discriminates decoded frames.
type FrameKind int

const (
	// FramePing is the literal heartbeat probe.
	FramePing FrameKind = iota
	// FramePong is the literal heartbeat answer.
	FramePong
	// FrameMessage is a single-key JSON object: a subscribe request, a
	// publish, a delivery, or a control event, depending on the key.
	FrameMessage
)

// Frame is one decoded wire frame.
type Frame struct {
	Kind FrameKind

	// Key is the single top-level key of a FrameMessage: either a
	// reserved control name or a user channel name.
	Key string

	// Value is the decoded payload under Key.
	Value any
}

// DecodeFrame parses one text frame. maxSize bounds the raw frame length
// in bytes; 0 means unlimited. Malformed frames return ErrMalformedFrame
// (wrapped with the parse failure) so callers can report the reason to the
// offending connection without tearing it down.
func DecodeFrame(text string, maxSize int) (Frame, error) {
	if maxSize > 0 && len(text) > maxSize {
		return Frame{}, ErrFrameTooLarge
	}

	switch text {
	case PingFrame:
		return Frame{Kind: FramePing}, nil
	case PongFrame:
		return Frame{Kind: FramePong}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if len(obj) != 1 {
		return Frame{}, fmt.Errorf("%w: expected a single-key object, got %d keys", ErrMalformedFrame, len(obj))
	}

	for key, value := range obj {
		return Frame{Kind: FrameMessage, Key: key, Value: value}, nil
	}

	// Unreachable: the loop above always returns.
	return Frame{}, ErrMalformedFrame
}

// EncodeFrame serializes a {key: value} message frame.
func EncodeFrame(key string, value any) (string, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	buf.WriteByte('{')

	nameJSON, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	buf.Write(nameJSON)
	buf.WriteByte(':')

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	buf.Write(valueJSON)
	buf.WriteByte('}')

	return buf.String(), nil
}

// EncodeErrorFrame serializes an {"error": text} control frame.
func EncodeErrorFrame(text string) string {
	frame, err := EncodeFrame(EventError.String(), text)
	if err != nil {
		// A string payload cannot fail to marshal.
		panic(err)
	}
	return frame
}

// missingChannelText is the error reported to a client that publishes to
// a channel the server never created a listener for.
func missingChannelText(name string) string {
	return fmt.Sprintf("The channel %q doesn't exist as the server hasn't created a listener for it", name)
}

// attachSender stamps the publishing client's id onto object payloads so
// that callbacks and subscribers can identify the sender. Non-object
// payloads pass through unchanged.
func attachSender(message any, clientID int) any {
	obj, ok := message.(map[string]any)
	if !ok {
		return message
	}
	obj["sender"] = clientID
	return obj
}
