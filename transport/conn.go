// Package transport implements the shared per-connection engine: feature
// negotiation, a serialized single-writer send loop, and the connecting →
// negotiating → running → draining → stopped state machine both the
// client and the server drive a Conn through.
//
// One goroutine owns the socket for writes (Conn's own send loop); one
// goroutine, owned by the caller rather than Conn itself, owns it for
// reads. Writers never block each other on a write lock: Enqueue hands a
// frame to a FIFO channel and the send loop is the only thing that ever
// calls NetConn.Write.
package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"corerpc"
)

// State is a Conn's position in its lifecycle.
type State int32

const (
	Connecting State = iota
	Negotiating
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Conn wraps one net.Conn with the negotiated compressor, the serialized
// send loop, and the shutdown bookkeeping shared by client and server.
type Conn struct {
	NetConn net.Conn

	Compressor  corerpc.Compressor // nil if COMPRESS was not negotiated
	WithExpiry  bool               // true if TIMEOUT was negotiated
	ClientInfo  corerpc.ClientInfo

	state int32 // atomic State

	sendCh    chan []byte
	sendWg    sync.WaitGroup
	drainOnce sync.Once
	draining  chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

// NewConn wraps nc and starts its send loop. The caller drives
// negotiation and the read loop separately.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		NetConn:  nc,
		sendCh:   make(chan []byte, 64),
		draining: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	atomic.StoreInt32(&c.state, int32(Connecting))
	c.sendWg.Add(1)
	go c.sendLoop()
	return c
}

func (c *Conn) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Conn) SetState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// Stopped is closed once the connection has fully torn down: send loop
// exited and the socket is closed.
func (c *Conn) Stopped() <-chan struct{} { return c.stopped }

// Err returns the error that caused shutdown, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Enqueue appends frame to the FIFO send queue. It is safe to call from
// any number of goroutines; frames are written to the socket in the order
// Enqueue was called. Returns corerpc.ClosedErr once the connection is
// shutting down.
func (c *Conn) Enqueue(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return corerpc.ClosedErr{}
	}
	c.mu.Unlock()
	select {
	case c.sendCh <- frame:
		return nil
	case <-c.stopped:
		return corerpc.ClosedErr{}
	}
}

// sendCh is never closed; Shutdown signals through draining instead, so a
// concurrent Enqueue can never send on a closed channel and panic. Once
// draining fires, the loop empties whatever is already queued before it
// exits, so a reply enqueued just ahead of a Shutdown call is still
// written rather than dropped by the select's race between the two
// cases.
func (c *Conn) sendLoop() {
	defer c.sendWg.Done()
	for {
		select {
		case frame := <-c.sendCh:
			if _, err := c.NetConn.Write(frame); err != nil {
				go c.Shutdown(err)
				return
			}
		case <-c.draining:
			c.flushSendCh()
			return
		}
	}
}

// flushSendCh writes every frame already sitting in sendCh without
// blocking for more. Write errors here are not reported: the socket is
// about to be closed either way and there is no reader left to hand the
// error to.
func (c *Conn) flushSendCh() {
	for {
		select {
		case frame := <-c.sendCh:
			c.NetConn.Write(frame)
		default:
			return
		}
	}
}

// Shutdown marks the connection as failed with err (idempotent: only the
// first call's err sticks), stops accepting new sends, waits for the send
// loop to flush whatever it had already queued, then closes the socket
// and signals Stopped. It does not wait for in-flight server handlers;
// the server is responsible for draining its reply gate before calling
// Shutdown.
//
// The drain signal and the wait-then-close sequence are split so that
// the send loop can trigger Shutdown on a write error: it starts
// Shutdown on a new goroutine and returns, so sendWg.Wait never runs on
// the goroutine sendWg is tracking. A direct call to Shutdown from the
// send loop's own goroutine would block forever in sendWg.Wait.
func (c *Conn) Shutdown(err error) {
	c.drainOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		c.mu.Unlock()
		close(c.draining)
	})
	c.sendWg.Wait()
	c.stopOnce.Do(func() {
		c.SetState(Stopped)
		c.NetConn.Close()
		close(c.stopped)
	})
}
