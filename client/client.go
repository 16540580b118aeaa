// Package client implements the calling side of post-rpc.
//
// One listener serves any number of overlapping calls: each call registers a
// response channel under its generated id before posting, and the listener
// routes each response envelope to the matching channel. Responses may arrive
// in any order; the id is what keeps interleaved calls apart.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"post-rpc/envelope"
	"post-rpc/transport"
)

// ErrClosed is returned by calls outstanding or issued after Close.
var ErrClosed = errors.New("client: closed")

// Client issues requests to a server reachable through a transport endpoint
// at the configured origin.
type Client struct {
	tr           transport.Transport
	serverOrigin string
	log          *zap.Logger

	pending  sync.Map // map[string]chan *envelope.Response, one entry per outstanding call
	listener transport.ListenerID

	mu     sync.Mutex
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client and attaches its response listener to the endpoint.
// Call Close to detach it.
func New(tr transport.Transport, serverOrigin string, opts ...Option) *Client {
	c := &Client{
		tr:           tr,
		serverOrigin: serverOrigin,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.listener = tr.AddListener(c.handleMessage)
	return c
}

// Call invokes method with positional args on the remote server and blocks
// until the response arrives or ctx is done. The protocol itself never times
// a call out — a server that stays silent leaves the call pending until the
// caller's ctx says otherwise.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	id := envelope.NewID()
	if args == nil {
		args = []any{}
	}

	data, err := envelope.EncodeRequest(&envelope.Request{ID: id, Method: method, Args: args})
	if err != nil {
		return nil, err
	}

	// Register the response channel BEFORE posting; otherwise a fast server
	// could answer before the listener knows where to route the response.
	// Buffered so the transport's dispatch goroutine never blocks on it.
	ch := make(chan *envelope.Response, 1)
	c.pending.Store(id, ch)

	// Re-check after registering: a Close racing this call might have swept
	// the table before the entry landed.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.pending.Delete(id)
		return nil, ErrClosed
	}
	c.mu.Unlock()

	if err := c.tr.Post(data, c.serverOrigin); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Err != "" {
			return nil, fmt.Errorf("server error: %s", resp.Err)
		}
		return resp.Ret, nil
	case <-ctx.Done():
		// Abandon the call; a late response finds no pending entry and is
		// ignored.
		c.pending.Delete(id)
		return nil, ctx.Err()
	}
}

// Close detaches the listener and fails every outstanding call with
// ErrClosed. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.tr.RemoveListener(c.listener)

	// Whoever wins the LoadAndDelete owns the channel: either the listener
	// sends a response into it, or Close closes it. Never both.
	c.pending.Range(func(key, _ any) bool {
		if v, ok := c.pending.LoadAndDelete(key); ok {
			close(v.(chan *envelope.Response))
		}
		return true
	})
}

// handleMessage routes response envelopes to their calls. Requests, foreign
// traffic, and responses for ids no longer pending are ignored: a call
// resolves at most once, and a duplicate response finds its entry already
// removed.
func (c *Client) handleMessage(msg transport.Message) {
	_, resp := envelope.Parse(msg.Data)
	if resp == nil {
		return
	}
	if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
		ch.(chan *envelope.Response) <- resp
		return
	}
	c.log.Debug("response for no pending call", zap.String("id", resp.ID))
}
