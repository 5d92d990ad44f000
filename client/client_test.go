package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"corerpc"
	"corerpc/codec"
	"corerpc/registry"
	"corerpc/server"
)

// freeAddr picks an unused local TCP address by briefly binding and
// releasing it, before handing the address to a goroutine-run server.
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

func add(ctx context.Context, a, b int) (int, error) { return a + b, nil }

func TestClientCallTwoWay(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(1, add); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)

	cl, err := Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int, int) (int, error))(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int, int) (int, error))
	got, err := fn(context.Background(), 2, 3)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
	if cl.Stats().Replied() != 1 {
		t.Fatalf("Replied() = %d, want 1", cl.Stats().Replied())
	}
}

func TestClientCallUnknownVerb(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)

	cl, err := Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	_, err = cl.Call(context.Background(), 99, nil, corerpc.Wait)
	var unknown corerpc.UnknownVerbErr
	if !errors.As(err, &unknown) {
		t.Fatalf("got %v, want UnknownVerbErr", err)
	}
	if cl.Stats().ExceptionReceived() != 1 {
		t.Fatalf("ExceptionReceived() = %d, want 1", cl.Stats().ExceptionReceived())
	}
}

func TestClientCallNoWait(t *testing.T) {
	received := make(chan string, 1)
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(2, func(ctx context.Context, s string) {
		received <- s
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)

	cl, err := Dial("tcp", addr, codec.JSON{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	stub, err := registry.MakeClient(cl, codec.JSON{}, 2, (func(context.Context, string) error)(nil))
	if err != nil {
		t.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, string) error)
	if err := fn(context.Background(), "hi"); err != nil {
		t.Fatalf("call: %v", err)
	}

	select {
	case got := <-received:
		if got != "hi" {
			t.Fatalf("got %q, want hi", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestClientCallTimeout(t *testing.T) {
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(3, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p, server.WithTimeoutSupport())
	addr := freeAddr(t)
	go svr.Serve("tcp", addr)
	time.Sleep(50 * time.Millisecond)

	cl, err := Dial("tcp", addr, codec.JSON{}, WithTimeoutFeature())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cl.Call(ctx, 3, nil, corerpc.Wait)
	if !errors.As(err, new(corerpc.TimeoutErr)) {
		t.Fatalf("got %v, want TimeoutErr", err)
	}
}
