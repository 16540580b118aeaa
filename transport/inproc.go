package transport

import "sync"

// queueSize bounds how many undelivered messages an endpoint buffers before
// Post blocks. Dispatch is single-goroutine per endpoint, so the buffer only
// fills when listeners fall behind.
const queueSize = 64

// Endpoint is one side of an in-process message channel. Delivery is
// asynchronous: Post enqueues onto the peer and returns; a dedicated dispatch
// goroutine invokes listeners, so listeners never run re-entrantly on the
// posting goroutine.
type Endpoint struct {
	origin string
	peer   *Endpoint

	mu        sync.Mutex
	listeners []registration
	nextID    ListenerID
	closed    bool

	queue chan Message
	done  chan struct{}
}

type registration struct {
	id ListenerID
	fn ListenerFunc
}

// Pipe creates two connected endpoints with the given origins. Messages
// posted on one side are delivered to the other side's listeners, stamped
// with the poster's origin.
func Pipe(originA, originB string) (*Endpoint, *Endpoint) {
	a := newEndpoint(originA)
	b := newEndpoint(originB)
	a.peer = b
	b.peer = a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func newEndpoint(origin string) *Endpoint {
	return &Endpoint{
		origin: origin,
		queue:  make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
}

// Origin returns the origin this endpoint answers to.
func (e *Endpoint) Origin() string {
	return e.origin
}

// Post delivers data to the peer endpoint, stamped with this endpoint's
// origin. If targetOrigin is neither "*" nor the peer's origin the message is
// dropped silently, matching cross-context messaging semantics: a misdirected
// message simply never arrives.
func (e *Endpoint) Post(data []byte, targetOrigin string) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if targetOrigin != "*" && targetOrigin != e.peer.origin {
		return nil
	}

	// Copy so the caller can reuse its buffer after Post returns.
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case e.peer.queue <- Message{Data: buf, Origin: e.origin}:
		return nil
	case <-e.peer.done:
		// Peer gone — same outcome as posting to a closed window: silence.
		return nil
	}
}

// AddListener registers fn for every message delivered to this endpoint.
func (e *Endpoint) AddListener(fn ListenerFunc) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, registration{id: id, fn: fn})
	return id
}

// RemoveListener unregisters the listener identified by id.
func (e *Endpoint) RemoveListener(id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, reg := range e.listeners {
		if reg.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Close stops delivery to this endpoint. Idempotent. In-flight dispatch
// finishes; queued but undelivered messages are discarded.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.done)
}

// dispatch runs in its own goroutine, delivering queued messages to the
// listener set registered at delivery time. The snapshot under lock lets a
// listener remove itself (or others) while a delivery is in progress.
func (e *Endpoint) dispatch() {
	for {
		select {
		case <-e.done:
			return
		case msg := <-e.queue:
			e.mu.Lock()
			snapshot := make([]registration, len(e.listeners))
			copy(snapshot, e.listeners)
			e.mu.Unlock()
			for _, reg := range snapshot {
				reg.fn(msg)
			}
		}
	}
}
