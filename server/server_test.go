package server

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"post-rpc/envelope"
	"post-rpc/handler"
	"post-rpc/middleware"
	"post-rpc/transport"
)

const (
	appOrigin    = "https://app.example.com"
	serverOrigin = "https://provider.example.com"
)

func echoHandler() handler.Handler {
	return handler.Map(map[string]handler.Func{
		"echo": func(ctx context.Context, args []any) (any, error) {
			return args, nil
		},
	})
}

// postRequest plays the client side by hand: encode, post, wait for the
// response envelope.
func postRequest(t *testing.T, ep *transport.Endpoint, req *envelope.Request) *envelope.Response {
	t.Helper()

	got := make(chan *envelope.Response, 1)
	id := ep.AddListener(func(msg transport.Message) {
		if _, resp := envelope.Parse(msg.Data); resp != nil {
			got <- resp
		}
	})
	defer ep.RemoveListener(id)

	data, err := envelope.EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Post(data, serverOrigin); err != nil {
		t.Fatal(err)
	}

	select {
	case resp := <-got:
		return resp
	case <-time.After(time.Second):
		t.Fatal("no response from server")
		return nil
	}
}

func TestServerRoundTrip(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	svr := New(serverEP, appOrigin, echoHandler())
	svr.Start()
	defer svr.Stop()

	resp := postRequest(t, clientEP, &envelope.Request{
		ID:     envelope.NewID(),
		Method: "echo",
		Args:   []any{float64(1), float64(2), float64(3)},
	})

	if resp.Err != "" {
		t.Fatalf("unexpected error: %s", resp.Err)
	}
	if !reflect.DeepEqual(resp.Ret, []any{float64(1), float64(2), float64(3)}) {
		t.Fatalf("expected [1 2 3], got %v", resp.Ret)
	}
}

func TestServerEchoesRequestID(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	svr := New(serverEP, appOrigin, echoHandler())
	svr.Start()
	defer svr.Stop()

	id := envelope.NewID()
	resp := postRequest(t, clientEP, &envelope.Request{ID: id, Method: "echo"})
	if resp.ID != id {
		t.Fatalf("response id %s does not echo request id %s", resp.ID, id)
	}
}

// A message from the wrong origin must never reach the handler and must never
// be answered.
func TestServerRejectsWrongOrigin(t *testing.T) {
	evilEP, serverEP := transport.Pipe("https://evil.example.com", serverOrigin)
	defer evilEP.Close()
	defer serverEP.Close()

	var invoked atomic.Bool
	h := func(ctx context.Context, method string, args []any) (handler.Result, error) {
		invoked.Store(true)
		return handler.Claim("leaked"), nil
	}

	svr := New(serverEP, appOrigin, h)
	svr.Start()
	defer svr.Stop()

	answered := make(chan struct{}, 1)
	evilEP.AddListener(func(transport.Message) { answered <- struct{}{} })

	data, _ := envelope.EncodeRequest(&envelope.Request{ID: "x", Method: "echo"})
	if err := evilEP.Post(data, serverOrigin); err != nil {
		t.Fatal(err)
	}

	select {
	case <-answered:
		t.Fatal("server answered a request from the wrong origin")
	case <-time.After(100 * time.Millisecond):
	}
	if invoked.Load() {
		t.Fatal("handler invoked for a request from the wrong origin")
	}
}

// Foreign and malformed payloads are the steady state on a shared channel:
// no handler call, no response, no panic.
func TestServerIgnoresForeignTraffic(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	var invoked atomic.Bool
	h := func(ctx context.Context, method string, args []any) (handler.Result, error) {
		invoked.Store(true)
		return handler.Unclaimed, nil
	}

	svr := New(serverEP, appOrigin, h)
	svr.Start()
	defer svr.Stop()

	answered := make(chan struct{}, 1)
	clientEP.AddListener(func(transport.Message) { answered <- struct{}{} })

	for _, payload := range []string{
		`not json`,
		`{"unrelated": true}`,
		`{"post-rpc": {"id": "x"}}`,
		`{"post-rpc": {"method": "no-id"}}`,
	} {
		if err := clientEP.Post([]byte(payload), serverOrigin); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-answered:
		t.Fatal("server answered foreign traffic")
	case <-time.After(100 * time.Millisecond):
	}
	if invoked.Load() {
		t.Fatal("handler invoked for foreign traffic")
	}
}

// No handler claims the method: the server still answers, with a null ret.
func TestServerAnswersUnclaimedWithNullRet(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	svr := New(serverEP, appOrigin, handler.Combine())
	svr.Start()
	defer svr.Stop()

	resp := postRequest(t, clientEP, &envelope.Request{ID: envelope.NewID(), Method: "nobody-home"})
	if resp.Err != "" {
		t.Fatalf("unexpected error: %s", resp.Err)
	}
	if resp.Ret != nil {
		t.Fatalf("expected null ret, got %v", resp.Ret)
	}
}

func TestServerReportsHandlerError(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	h := func(ctx context.Context, method string, args []any) (handler.Result, error) {
		return handler.Unclaimed, errors.New("storage offline")
	}
	svr := New(serverEP, appOrigin, h)
	svr.Start()
	defer svr.Stop()

	resp := postRequest(t, clientEP, &envelope.Request{ID: envelope.NewID(), Method: "save"})
	if resp.Err != "storage offline" {
		t.Fatalf("expected handler error on the wire, got %+v", resp)
	}
}

// Double Start must not double-register the listener: one request gets
// exactly one response.
func TestServerStartIdempotent(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	svr := New(serverEP, appOrigin, echoHandler())
	svr.Start()
	svr.Start()
	defer svr.Stop()

	responses := make(chan struct{}, 4)
	clientEP.AddListener(func(msg transport.Message) {
		if _, resp := envelope.Parse(msg.Data); resp != nil {
			responses <- struct{}{}
		}
	})

	data, _ := envelope.EncodeRequest(&envelope.Request{ID: envelope.NewID(), Method: "echo"})
	if err := clientEP.Post(data, serverOrigin); err != nil {
		t.Fatal(err)
	}

	<-responses
	select {
	case <-responses:
		t.Fatal("double Start produced a duplicate response")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerStopIdempotent(t *testing.T) {
	_, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer serverEP.Close()

	svr := New(serverEP, appOrigin, echoHandler())

	// Stop on a never-started server, then a started one, twice.
	svr.Stop()
	svr.Start()
	svr.Stop()
	svr.Stop()
}

func TestServerStopDetaches(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	var invoked atomic.Bool
	h := func(ctx context.Context, method string, args []any) (handler.Result, error) {
		invoked.Store(true)
		return handler.Unclaimed, nil
	}
	svr := New(serverEP, appOrigin, h)
	svr.Start()
	svr.Stop()

	data, _ := envelope.EncodeRequest(&envelope.Request{ID: "x", Method: "m"})
	if err := clientEP.Post(data, serverOrigin); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if invoked.Load() {
		t.Fatal("stopped server still dispatching")
	}
}

func TestServerShutdownWaitsForInflight(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	release := make(chan struct{})
	var finished atomic.Bool
	h := func(ctx context.Context, method string, args []any) (handler.Result, error) {
		<-release
		finished.Store(true)
		return handler.Claim("done"), nil
	}
	svr := New(serverEP, appOrigin, h)
	svr.Start()

	data, _ := envelope.EncodeRequest(&envelope.Request{ID: envelope.NewID(), Method: "slow"})
	if err := clientEP.Post(data, serverOrigin); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond) // let the request enter the handler

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	if err := svr.Shutdown(2 * time.Second); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatal("Shutdown returned before the in-flight handler finished")
	}
}

func TestServerMiddleware(t *testing.T) {
	clientEP, serverEP := transport.Pipe(appOrigin, serverOrigin)
	defer clientEP.Close()
	defer serverEP.Close()

	svr := New(serverEP, appOrigin, echoHandler())
	svr.Use(middleware.RateLimit(1, 1))
	svr.Start()
	defer svr.Stop()

	// burst=1: the first call passes, the second is rejected on the wire.
	first := postRequest(t, clientEP, &envelope.Request{ID: envelope.NewID(), Method: "echo"})
	if first.Err != "" {
		t.Fatalf("first call should pass, got %s", first.Err)
	}

	second := postRequest(t, clientEP, &envelope.Request{ID: envelope.NewID(), Method: "echo"})
	if second.Err != middleware.ErrRateLimited.Error() {
		t.Fatalf("second call should be rate limited, got %+v", second)
	}
}
