// Package server implements the server-side dispatcher: an accept loop
// that negotiates each incoming connection, reads request frames off it,
// admits them through a per-connection resource.Gate, dispatches through
// a registry.Protocol, and replies according to the verb's wait mode.
// Shutdown is graceful: it stops accepting new connections and waits for
// every connection's in-flight requests to drain before closing sockets.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"corerpc"
	"corerpc/protocol"
	"corerpc/registry"
	"corerpc/resource"
	"corerpc/transport"
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithCompressorFactory offers factory during negotiation with every
// connection accepted.
func WithCompressorFactory(factory corerpc.CompressorFactory) Option {
	return func(s *Server) { s.compressorFactory = factory }
}

// WithTimeoutSupport makes the server accept the TIMEOUT feature and
// derive a per-request context deadline from the request header's
// expiration field.
func WithTimeoutSupport() Option {
	return func(s *Server) { s.supportTimeout = true }
}

// WithConnMemoryLimit bounds the total payload bytes a single connection
// may have in flight at once; the read loop blocks admitting further
// requests from a connection once its limit is reached, without dropping
// it. 0 (the default) means unlimited.
func WithConnMemoryLimit(bytes int64) Option {
	return func(s *Server) { s.memLimit = bytes }
}

// WithLogger overrides the default corerpc.StdLogger.
func WithLogger(logger corerpc.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAcceptLimiter bounds the rate at which Serve accepts new
// connections, independently of the per-connection memory budget of
// WithConnMemoryLimit: a connection that's already established keeps
// running even once the limiter is exhausted, only new accepts wait on
// it. A nil limiter (the default) means unlimited.
func WithAcceptLimiter(limiter *rate.Limiter) Option {
	return func(s *Server) { s.acceptLimiter = limiter }
}

// serverConn bundles the bookkeeping Serve needs per accepted connection:
// the engine, its admission gate, and the reply gate that counts
// in-flight dispatches so Shutdown can drain them before tearing the
// connection down.
type serverConn struct {
	conn *transport.Conn
	gate *resource.Gate
	wg   sync.WaitGroup
}

// Server accepts connections and dispatches requests through a
// registry.Protocol.
type Server struct {
	Protocol *registry.Protocol

	compressorFactory corerpc.CompressorFactory
	supportTimeout    bool
	memLimit          int64
	acceptLimiter     *rate.Limiter
	logger            corerpc.Logger

	listener net.Listener
	conns    sync.Map // map[*transport.Conn]*serverConn
	stopping atomic.Bool
}

// NewServer creates a Server dispatching through protocol.
func NewServer(protocol *registry.Protocol, opts ...Option) *Server {
	s := &Server{Protocol: protocol, logger: corerpc.StdLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve listens on address and runs the accept loop until Shutdown
// closes the listener, at which point it returns nil. Every accepted
// TCP connection has Nagle's algorithm disabled: request/response frames
// are typically small and latency-sensitive, and batching them would
// only add delay.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping.Load() {
				return nil
			}
			return err
		}
		if s.acceptLimiter != nil {
			if err := s.acceptLimiter.Wait(context.Background()); err != nil {
				conn.Close()
				continue
			}
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		go s.handleConn(conn)
	}
}

// handleConn drives one connection's full lifecycle: negotiation, the
// single-threaded read loop that admits and dispatches requests, and the
// draining shutdown sequence: stop admitting, await in-flight handlers,
// then tear the transport down.
func (s *Server) handleConn(nc net.Conn) {
	c := transport.NewConn(nc)
	sc := &serverConn{conn: c, gate: resource.NewGate(s.memLimit)}
	s.conns.Store(c, sc)
	defer s.conns.Delete(c)

	if err := transport.NegotiateServer(c, s.compressorFactory, s.supportTimeout); err != nil {
		c.Shutdown(err)
		return
	}
	features := corerpc.FeatureMap{}
	if c.Compressor != nil {
		features[corerpc.FeatureCompress] = c.Compressor.Supported()
	}
	if c.WithExpiry {
		features[corerpc.FeatureTimeout] = []byte{}
	}
	c.ClientInfo = corerpc.ClientInfo{Addr: nc.RemoteAddr(), Features: features}

	var readErr error
readLoop:
	for {
		header, payload, err := transport.ReadRequestFrame(c)
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break readLoop
		}
		weight := int64(len(payload))
		if !sc.gate.Acquire(weight) {
			break readLoop // gate closed: connection is draining
		}
		sc.wg.Add(1)
		go s.dispatch(c, sc, header, payload, weight)
	}

	c.SetState(transport.Draining)
	sc.gate.Close()
	sc.wg.Wait()
	c.Shutdown(readErr)
}

// dispatch unmarshals, invokes, and conditionally replies to a single
// request. Wait mode is a static property of the registered verb, not
// something the request frame encodes: an unrecognized verb has no
// registered wait mode to consult, so the server always sends an
// UNKNOWN_VERB exception for it regardless of what wait mode the caller
// used. A no-wait caller simply has no pending entry to deliver that
// exception to and drops it (see package client's readLoop). For a
// recognized verb, a reply frame is sent only when it was registered
// wait; a no-wait handler's error is logged and discarded, never sent.
func (s *Server) dispatch(c *transport.Conn, sc *serverConn, header protocol.RequestHeader, payload []byte, weight int64) {
	defer sc.gate.Release(weight)
	defer sc.wg.Done()

	ctx := context.Background()
	if header.Expiration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(header.Expiration)*time.Millisecond)
		defer cancel()
	}

	thunk, wait, ok := s.Protocol.Dispatch(header.Type)
	if !ok {
		s.sendException(c, header.ID, protocol.UnknownVerbExceptionPayload(header.Type))
		return
	}

	reply, _, err := thunk(ctx, c.ClientInfo, payload)
	if wait == corerpc.NoWaitMode {
		if err != nil {
			s.logger.Log(c.ClientInfo, fmt.Sprintf("no-wait handler for verb %d: %v", uint64(header.Type), err))
		}
		return
	}
	if err != nil {
		s.sendException(c, header.ID, protocol.UserExceptionPayload(err.Error()))
		return
	}
	if err := transport.WriteResponseFrame(c, protocol.ResponseHeader{ID: header.ID, PayloadLen: uint32(len(reply))}, reply); err != nil {
		s.logger.Log(c.ClientInfo, fmt.Sprintf("writing reply for verb %d: %v", uint64(header.Type), err))
	}
}

func (s *Server) sendException(c *transport.Conn, id corerpc.MessageID, payload []byte) {
	if err := transport.WriteResponseFrame(c, protocol.ResponseHeader{ID: -id, PayloadLen: uint32(len(payload))}, payload); err != nil {
		s.logger.Log(c.ClientInfo, fmt.Sprintf("writing exception reply: %v", err))
	}
}

// Shutdown stops accepting new connections, waits up to timeout for every
// connection's in-flight requests to drain and then closes them, and
// force-closes whatever is still running when timeout elapses.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.stopping.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Range(func(_, v any) bool {
			v.(*serverConn).wg.Wait()
			return true
		})
		close(done)
	}()

	select {
	case <-done:
		s.conns.Range(func(_, v any) bool {
			v.(*serverConn).conn.Shutdown(nil)
			return true
		})
		return nil
	case <-time.After(timeout):
		s.conns.Range(func(_, v any) bool {
			v.(*serverConn).conn.Shutdown(corerpc.ClosedErr{})
			return true
		})
		return fmt.Errorf("server: shutdown timed out waiting for in-flight requests")
	}
}
