// Package transport defines the message-channel boundary post-rpc runs on,
// plus an in-process implementation of it.
//
// The channel is untrusted and shared: listeners see every message delivered
// to their endpoint, from any sender, each carrying the sender's declared
// origin. The transport does no origin filtering on receive — authorization
// is the protocol layer's job. On send, the poster declares the origin it
// expects the recipient to have; a recipient with a different origin never
// sees the message.
package transport

import "errors"

// ErrClosed is returned by Post on an endpoint that has been closed.
var ErrClosed = errors.New("transport: endpoint closed")

// Message is what a listener receives: the raw payload and the sender's
// declared origin.
type Message struct {
	Data   []byte
	Origin string
}

// ListenerFunc handles one inbound message. It runs on the endpoint's
// dispatch goroutine, so it must not block for long.
type ListenerFunc func(msg Message)

// ListenerID identifies a registered listener for removal. Func values are
// not comparable, so registration hands back a token instead.
type ListenerID uint64

// Transport is one side's handle to the shared channel.
type Transport interface {
	// Post sends a payload, declaring the origin the recipient must have.
	// targetOrigin "*" matches any recipient. A mismatch drops the message
	// silently — the poster is never told.
	Post(data []byte, targetOrigin string) error

	// AddListener registers fn for every inbound message and returns a
	// token for RemoveListener. Removing an unknown token is a no-op.
	AddListener(fn ListenerFunc) ListenerID
	RemoveListener(id ListenerID)
}
