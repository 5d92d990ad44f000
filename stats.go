package corerpc

import "sync/atomic"

// Stats are the per-connection counters spec.md's end-to-end scenarios
// assert on (E1's replied=1, E5's exception_received=1). Safe for
// concurrent use: a connection's read loop is single-threaded, but callers
// may read Stats from any goroutine.
type Stats struct {
	replied           atomic.Int64
	exceptionReceived atomic.Int64
}

func (s *Stats) IncReplied()           { s.replied.Add(1) }
func (s *Stats) IncExceptionReceived() { s.exceptionReceived.Add(1) }
func (s *Stats) Replied() int64        { return s.replied.Load() }
func (s *Stats) ExceptionReceived() int64 { return s.exceptionReceived.Load() }
