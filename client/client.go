// Package client implements the client side of the protocol: dialing a
// server, negotiating features, and correlating asynchronous replies back
// to the call that sent the request that provoked them.
//
// A sync.Map of pending calls, keyed by message id, is consulted by a
// single dedicated read-loop goroutine that routes each response frame to
// the right caller. A caller blocks on a buffered channel rather than on
// the map directly, and that wait composes with context.Context
// deadlines and cancellation alongside the connection's own shutdown.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"corerpc"
	"corerpc/protocol"
	"corerpc/transport"
)

// Option configures a Client at Dial time.
type Option func(*Client)

// WithCompressorFactory offers factory during negotiation; if the server
// doesn't support any codec it advertises, the connection runs
// uncompressed.
func WithCompressorFactory(factory corerpc.CompressorFactory) Option {
	return func(c *Client) { c.compressorFactory = factory }
}

// WithTimeoutFeature advertises the TIMEOUT feature, letting Call
// forward a context deadline to the server as an expiration hint.
func WithTimeoutFeature() Option {
	return func(c *Client) { c.wantTimeout = true }
}

// WithLogger overrides the default corerpc.StdLogger.
func WithLogger(logger corerpc.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

type pendingResult struct {
	payload []byte
	err     error
}

// Client is a single connection to one server, implementing
// corerpc.Caller. A Client is safe for concurrent use by any number of
// goroutines calling through the same or different stubs.
type Client struct {
	conn       *transport.Conn
	serializer corerpc.Serializer
	logger     corerpc.Logger

	compressorFactory corerpc.CompressorFactory
	wantTimeout       bool

	nextID  int64    // atomic, monotonic, allocated for every call regardless of wait mode
	pending sync.Map // map[corerpc.MessageID]chan pendingResult

	stats corerpc.Stats
}

// Dial connects to address, negotiates features, and starts the read
// loop that correlates replies to outstanding calls.
func Dial(network, address string, serializer corerpc.Serializer, opts ...Option) (*Client, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:       transport.NewConn(nc),
		serializer: serializer,
		logger:     corerpc.StdLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := transport.NegotiateClient(c.conn, c.compressorFactory, c.wantTimeout); err != nil {
		c.conn.Shutdown(err)
		return nil, err
	}
	c.conn.ClientInfo = corerpc.ClientInfo{Addr: nc.RemoteAddr()}
	go c.readLoop()
	return c, nil
}

// Stats reports this connection's reply counters.
func (c *Client) Stats() *corerpc.Stats { return &c.stats }

// Close tears down the connection. Any calls still outstanding fail with
// corerpc.ClosedErr.
func (c *Client) Close() error {
	c.conn.Shutdown(nil)
	<-c.conn.Stopped()
	return nil
}

// Call implements corerpc.Caller. A message id is allocated for every
// call regardless of wait mode: wait mode is a per-verb property the
// server consults, not something encoded via a sentinel id. For
// wait == corerpc.NoWaitMode, Call returns as soon as the request frame
// is enqueued and never tracks a pending entry for the id: the server
// sends no reply for a no-wait verb, and any exception a no-wait call
// happens to provoke (e.g. an unregistered verb) arrives with no pending
// entry to deliver it to (see readLoop). For corerpc.Wait it blocks
// until a reply arrives, ctx is done, or the connection closes.
func (c *Client) Call(ctx context.Context, t corerpc.MessageType, payload []byte, wait corerpc.WaitMode) ([]byte, error) {
	id := corerpc.MessageID(atomic.AddInt64(&c.nextID, 1))
	header := protocol.RequestHeader{Type: t, ID: id, PayloadLen: uint32(len(payload))}
	if c.conn.WithExpiry {
		if dl, ok := ctx.Deadline(); ok {
			if remaining := time.Until(dl); remaining > 0 {
				// Round up so the server's deadline never lands ahead of
				// the caller's, and a sub-millisecond remainder is not sent
				// as 0 ("no deadline").
				header.Expiration = uint64((remaining + time.Millisecond - 1) / time.Millisecond)
			}
		}
	}

	if wait == corerpc.NoWaitMode {
		return nil, transport.WriteRequestFrame(c.conn, header, payload)
	}

	ch := make(chan pendingResult, 1)
	c.pending.Store(id, ch)

	if err := transport.WriteRequestFrame(c.conn, header, payload); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.pending.Delete(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, corerpc.TimeoutErr{}
		}
		return nil, corerpc.CanceledErr{}
	case <-c.conn.Stopped():
		c.pending.Delete(id)
		return nil, corerpc.ClosedErr{}
	}
}

// readLoop is the single reader of this connection's socket: response
// frames can arrive in any order, and each is routed to the pending
// entry its id names. A negative id marks an exception reply for its
// absolute value.
//
// An entry can be absent for two reasons: the pending call already
// completed by timeout or cancellation, in which case a late positive
// reply is a soft event that is logged and dropped; or the id belongs to a
// no-wait call that never registered one in the first place. The latter
// only ever elicits an UNKNOWN_VERB exception (the server always replies
// to an unrecognized verb, regardless of the caller's intended wait
// mode, since it has no registered handler to consult a wait mode from);
// that specific combination is logged and dropped. Any other exception
// kind with no pending entry means the peers have desynchronized, which
// poisons the connection exactly like a ProtocolErr.
func (c *Client) readLoop() {
	for {
		header, payload, err := transport.ReadResponseFrame(c.conn)
		if err != nil {
			c.failAllPending(err)
			c.conn.Shutdown(err)
			return
		}
		id := header.ID
		isException := id < 0
		if isException {
			id = -id
		}
		val, ok := c.pending.LoadAndDelete(id)
		if !ok {
			if !isException {
				c.logger.Log(c.conn.ClientInfo, fmt.Sprintf("late reply for message id %d dropped", id))
				continue
			}
			decodeErr := protocol.DecodeException(payload)
			if _, isUnknownVerb := decodeErr.(corerpc.UnknownVerbErr); isUnknownVerb {
				c.logger.Log(c.conn.ClientInfo, fmt.Sprintf("unknown-verb exception for no-wait call %d dropped", id))
				continue
			}
			c.failAllPending(decodeErr)
			c.conn.Shutdown(decodeErr)
			return
		}
		ch := val.(chan pendingResult)
		if isException {
			c.stats.IncExceptionReceived()
			excErr := protocol.DecodeException(payload)
			ch <- pendingResult{err: excErr}
			switch excErr.(type) {
			case corerpc.UnknownExceptionErr, corerpc.ProtocolErr:
				c.failAllPending(excErr)
				c.conn.Shutdown(excErr)
				return
			}
		} else {
			c.stats.IncReplied()
			ch <- pendingResult{payload: payload}
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pending.Range(func(key, value any) bool {
		value.(chan pendingResult) <- pendingResult{err: corerpc.ClosedErr{}}
		return true
	})
	c.pending.Clear()
}
