// Package server implements the listening side of post-rpc.
//
// Message handling pipeline, once per inbound transport message:
//
//	listener → origin check → envelope.Parse → middleware chain → handler
//	         → envelope.EncodeResponse → Post back to the client origin
//
// Each accepted request runs in its own goroutine, so a slow handler never
// blocks other inbound messages. Origin equality is the sole authorization
// check: it is coarse, non-cryptographic, and only as good as the origin
// string the caller configured.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"post-rpc/envelope"
	"post-rpc/handler"
	"post-rpc/middleware"
	"post-rpc/transport"
)

// Server listens on a transport endpoint and dispatches request envelopes
// from one configured client origin to a handler.
type Server struct {
	tr           transport.Transport
	clientOrigin string
	base         handler.Handler
	middlewares  []middleware.Middleware
	log          *zap.Logger

	mu       sync.Mutex
	active   bool
	listener transport.ListenerID

	wg sync.WaitGroup // in-flight requests, for graceful shutdown
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a server for the given endpoint. Requests are accepted only
// from clientOrigin; h supplies the capabilities.
func New(tr transport.Transport, clientOrigin string, h handler.Handler, opts ...Option) *Server {
	s := &Server{
		tr:           tr,
		clientOrigin: clientOrigin,
		base:         h,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares apply in the order they are added
// and take effect at the next Start.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Start attaches the message listener. Calling Start on a running server is a
// no-op — the listener is never registered twice.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	// Build the middleware chain once per Start, not per request. The chain
	// is captured by the listener closure, so in-flight requests from a
	// previous Start never observe a newer chain.
	h := middleware.Chain(s.middlewares...)(s.base)
	s.listener = s.tr.AddListener(func(msg transport.Message) {
		// Runs on the transport's dispatch goroutine; hand each message to
		// its own goroutine immediately so handling flows interleave.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(h, msg)
		}()
	})
	s.active = true
}

// Stop detaches the message listener. Safe to call on a server that was never
// started, and safe to call twice. In-flight requests finish on their own;
// use Shutdown to wait for them.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.tr.RemoveListener(s.listener)
	s.active = false
}

// Shutdown stops accepting requests and waits up to timeout for in-flight
// handlers to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for in-flight requests")
	}
}

func (s *Server) handle(h handler.Handler, msg transport.Message) {
	// Authorization: exact match against the configured client origin. A
	// mismatch is dropped with a warning — never answered, never fatal.
	if msg.Origin != s.clientOrigin {
		s.log.Warn("dropping message from unexpected origin",
			zap.String("expected", s.clientOrigin),
			zap.String("observed", msg.Origin))
		return
	}

	// The channel is shared territory: anything that isn't a request
	// envelope is ignored without a sound.
	req, _ := envelope.Parse(msg.Data)
	if req == nil {
		return
	}

	res, err := h(context.Background(), req.Method, req.Args)

	resp := &envelope.Response{ID: req.ID}
	if err != nil {
		// Handler failure travels back on the wire instead of leaving the
		// caller pending forever.
		resp.Err = err.Error()
	} else {
		// Unclaimed methods answer with a null ret; the caller cannot tell
		// that apart from a method that returned nothing, which is the
		// protocol's documented behavior.
		resp.Ret = res.Value
	}

	data, err := envelope.EncodeResponse(resp)
	if err != nil {
		s.log.Error("failed to encode response", zap.String("id", req.ID), zap.Error(err))
		return
	}
	if err := s.tr.Post(data, s.clientOrigin); err != nil {
		s.log.Error("failed to post response", zap.String("id", req.ID), zap.Error(err))
	}
}
