package corerpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"corerpc/client"
	"corerpc/codec"
	"corerpc/registry"
	"corerpc/server"
)

func setupBenchServer(b *testing.B) (*server.Server, *client.Client) {
	b.Helper()
	p := registry.NewProtocol(codec.JSON{}, nil)
	if _, err := p.RegisterHandler(1, func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	}); err != nil {
		b.Fatalf("RegisterHandler: %v", err)
	}
	svr := server.NewServer(p)
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	probe.Close()

	go svr.Serve("tcp", addr)
	time.Sleep(100 * time.Millisecond)
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	cl, err := client.Dial("tcp", addr, codec.JSON{})
	if err != nil {
		b.Fatalf("Dial: %v", err)
	}
	b.Cleanup(func() { cl.Close() })
	return svr, cl
}

// BenchmarkSerialCall measures round-trip latency of one goroutine issuing
// calls back to back on a single connection.
func BenchmarkSerialCall(b *testing.B) {
	_, cl := setupBenchServer(b)
	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int, int) (int, error))(nil))
	if err != nil {
		b.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int, int) (int, error))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := fn(context.Background(), 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall measures throughput of many goroutines
// multiplexing calls over the same connection, exercising the message-id
// correlator under contention.
func BenchmarkConcurrentCall(b *testing.B) {
	_, cl := setupBenchServer(b)
	stub, err := registry.MakeClient(cl, codec.JSON{}, 1, (func(context.Context, int, int) (int, error))(nil))
	if err != nil {
		b.Fatalf("MakeClient: %v", err)
	}
	fn := stub.(func(context.Context, int, int) (int, error))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := fn(context.Background(), 1, 2); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
