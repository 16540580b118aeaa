// Package registry provides a directory of peer origins.
//
// Origin string equality is the protocol's entire authorization story, which
// makes getting the configured origin right the one security-relevant piece
// of wiring. In deployments with more than a couple of contexts, the
// directory lets peers advertise the origin they answer to instead of every
// side hard-coding every other side's string.
package registry

// Peer describes one advertised context.
type Peer struct {
	Origin  string
	Version string
}

// Registry is the directory interface. A name may map to several peers when
// the same capability set is served from more than one context.
type Registry interface {
	// Register advertises a peer under name with a TTL in seconds; the
	// entry disappears on its own if the peer stops renewing it.
	Register(name string, peer Peer, ttl int64) error

	// Deregister withdraws one advertised origin for name.
	Deregister(name string, origin string) error

	// Discover returns the peers currently advertised under name.
	Discover(name string) ([]Peer, error)

	// Watch emits the full peer list for name whenever it changes.
	Watch(name string) <-chan []Peer
}
