package corerpc_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"corerpc"
	"corerpc/client"
	"corerpc/codec"
	"corerpc/compressor"
	"corerpc/registry"
	"corerpc/server"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeAddr: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// TestE1Echo: register type=1 handler int(int) = x+1. Client calls
// 1, 41 -> result 42; Stats().Replied() == 1.
func TestE1Echo(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(1, func(ctx context.Context, x int) (int, error) {
		return x + 1, nil
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int) (int, error))(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int) (int, error))
	got, err := fn(context.Background(), 41)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if cl.Stats().Replied() != 1 {
		t.Fatalf("Replied() = %d, want 1", cl.Stats().Replied())
	}
}

// TestE2NoWait: register type=2 no_wait(string) = log. Client calls
// 2, "hi"; resolves immediately; server observes the message; no reply
// frame is ever written.
func TestE2NoWait(t *testing.T) {
	observed := make(chan string, 1)
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(2, func(ctx context.Context, s string) {
		observed <- s
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	stub, err := registry.MakeClient(cl, codec.JSON{}, 2, (func(context.Context, string) error)(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, string) error)
	start := time.Now()
	if err := fn(context.Background(), "hi"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("no-wait call took %v, expected to resolve on send", elapsed)
	}

	select {
	case got := <-observed:
		if got != "hi" {
			t.Fatalf("got %q, want hi", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the no-wait message")
	}

	if cl.Stats().Replied() != 0 {
		t.Fatalf("Replied() = %d, want 0 (no-wait sends no reply)", cl.Stats().Replied())
	}
}

// TestE3Timeout: register type=3 handler that only returns once its
// server-side deadline passes. Client calls with a 50ms deadline. Client
// call completes with TimeoutErr; the handler still runs to completion,
// and its late exception reply finds no pending call on the client.
func TestE3Timeout(t *testing.T) {
	handlerReturned := make(chan struct{})
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(3, func(ctx context.Context) error {
		<-ctx.Done()
		close(handlerReturned)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p, server.WithTimeoutSupport())
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{}, client.WithTimeoutFeature())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cl.Call(ctx, 3, []byte{}, corerpc.Wait)
	var timeoutErr corerpc.TimeoutErr
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %v, want TimeoutErr", err)
	}

	select {
	case <-handlerReturned:
	case <-time.After(2 * time.Second):
		t.Fatal("server handler never returned")
	}
}

// TestE4Exception: handler raises "boom". Client call rejects with
// RemoteErr{"boom"}; the connection stays usable for a second call.
func TestE4Exception(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(4, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	if _, err := p.RegisterHandler(1, func(ctx context.Context, x int) (int, error) {
		return x + 1, nil
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	_, err = cl.Call(context.Background(), 4, []byte{}, corerpc.Wait)
	var remote corerpc.RemoteErr
	if !errors.As(err, &remote) || remote.Message != "boom" {
		t.Fatalf("got %v, want RemoteErr{boom}", err)
	}

	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int) (int, error))(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int) (int, error))
	got, err := fn(context.Background(), 1)
	if err != nil {
		t.Fatalf("second call after exception: %v", err)
	}
	if got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

// TestE5UnknownVerb: client calls an unregistered type=999. Client call
// rejects with UnknownVerbErr{999}; exception_received increments; a
// subsequent registered call succeeds.
func TestE5UnknownVerb(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(1, func(ctx context.Context, x int) (int, error) {
		return x + 1, nil
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	_, err = cl.Call(context.Background(), 999, nil, corerpc.Wait)
	var unknown corerpc.UnknownVerbErr
	if !errors.As(err, &unknown) || unknown.Type != 999 {
		t.Fatalf("got %v, want UnknownVerbErr{999}", err)
	}
	if cl.Stats().ExceptionReceived() != 1 {
		t.Fatalf("ExceptionReceived() = %d, want 1", cl.Stats().ExceptionReceived())
	}

	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int) (int, error))(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int) (int, error))
	got, err := fn(context.Background(), 1)
	if err != nil {
		t.Fatalf("subsequent call: %v", err)
	}
	if got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

// TestE6Compression: both peers advertise COMPRESS with gzip. Round-trip
// of E1 still yields 42.
func TestE6Compression(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(1, func(ctx context.Context, x int) (int, error) {
		return x + 1, nil
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p, server.WithCompressorFactory(compressor.GzipFactory{}))
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{}, client.WithCompressorFactory(compressor.GzipFactory{}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int) (int, error))(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int) (int, error))
	got, err := fn(context.Background(), 41)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

// TestConcurrentCallsResourcesBalance exercises property 3 (balanced
// resources) and property 6 (atomic framing under load): N concurrent
// calls on one connection all complete correctly and the admission gate
// returns to full capacity afterward.
func TestConcurrentCallsResourcesBalance(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(1, func(ctx context.Context, x int) (int, error) {
		return x * 2, nil
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p, server.WithConnMemoryLimit(1<<20))
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	cl, err := client.Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int) (int, error))(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int) (int, error))

	const n = 100
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			got, err := fn(context.Background(), i)
			if err != nil {
				results <- err
				return
			}
			if got != i*2 {
				results <- errors.New("wrong result")
				return
			}
			results <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}
	if cl.Stats().Replied() != n {
		t.Fatalf("Replied() = %d, want %d", cl.Stats().Replied(), n)
	}
}
