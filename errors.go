package corerpc

import "fmt"

// ClosedErr is returned for any call made on, or outstanding against, a
// connection that has entered the error state; this includes calls made after
// shutdown and pending calls still outstanding when the connection dies.
type ClosedErr struct{}

func (ClosedErr) Error() string { return "corerpc: connection closed" }

// TimeoutErr is returned when a call's deadline elapses before a reply
// arrives. No wire action is taken. A late success reply, if one ever
// arrives, is logged and dropped; a late exception reply other than
// UNKNOWN_VERB has no pending call left to go to and tears the connection
// down (see package client's read loop).
type TimeoutErr struct{}

func (TimeoutErr) Error() string { return "corerpc: call timed out" }

// CanceledErr is returned when a call's context is canceled before a reply
// arrives.
type CanceledErr struct{}

func (CanceledErr) Error() string { return "corerpc: call canceled" }

// ProtocolErr marks a connection-poisoning protocol violation: bad magic,
// a short read at a non-frame-boundary, a malformed feature record, or an
// unknown exception kind. It is never recoverable; the connection that
// produced it is torn down.
type ProtocolErr struct {
	Reason string
}

func (e ProtocolErr) Error() string { return "corerpc: protocol error: " + e.Reason }

// UnknownVerbErr is the reply a client receives when it calls a
// MessageType the server never registered a handler for.
type UnknownVerbErr struct {
	Type MessageType
}

func (e UnknownVerbErr) Error() string {
	return fmt.Sprintf("corerpc: unknown verb %d", uint64(e.Type))
}

// RemoteErr carries the message string of an exception a handler raised on
// the peer. It leaves the connection healthy.
type RemoteErr struct {
	Message string
}

func (e RemoteErr) Error() string { return "corerpc: remote error: " + e.Message }

// UnknownExceptionErr is returned when a response frame's exception record
// carries an exception kind this implementation doesn't recognize. Like
// ProtocolErr, this poisons the connection: the set of exception kinds is
// fixed, so an unrecognized kind means the peers have desynchronized.
type UnknownExceptionErr struct{}

func (UnknownExceptionErr) Error() string { return "corerpc: unknown exception kind" }
