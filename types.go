// Package corerpc implements the per-connection engine of a typed,
// asynchronous, point-to-point RPC protocol: framing, feature negotiation,
// message-id correlation, optional transparent compression, per-connection
// memory admission control, and handler dispatch with timeout and
// cancellation.
//
// One peer plays the server role (accepts connections, dispatches to
// handlers registered under an opaque MessageType); the other plays the
// client role (opens a connection, correlates replies to outstanding
// calls). The socket, the cooperative scheduler, argument serialization and
// compression are all supplied by the caller through small interfaces
// (Serializer, Compressor, Logger); this package owns only the protocol
// engine between them.
package corerpc

import (
	"log"
	"net"
)

// MessageType is an opaque identifier of a remote operation, chosen by the
// application. Equal identifiers must denote the same argument/return
// signature on both peers.
type MessageType uint64

// MessageID correlates a request with its reply on one connection. It is
// allocated by the client, monotonically increasing and never reused for
// the life of the connection. On the wire a reply carries the original id
// for success and its arithmetic negation for a failure reply.
type MessageID int64

// WaitMode is a per-handler property: whether the caller expects a reply
// frame (Wait) or not (NoWaitMode, "fire-and-forget").
type WaitMode int

const (
	// Wait means the server sends exactly one response frame (success or
	// exception) for the request.
	Wait WaitMode = iota
	// NoWaitMode means no response frame is ever sent; the client's call
	// resolves as soon as the request has been handed to the send loop,
	// and any handler error is logged server-side only.
	NoWaitMode
)

func (w WaitMode) String() string {
	if w == NoWaitMode {
		return "no_wait"
	}
	return "wait"
}

// NoWait is a marker type for fire-and-forget calls. RegisterHandler does
// not treat it specially: a handler declares itself fire-and-forget by
// having no return values, and a handler returning (corerpc.NoWait, error)
// is registered as a wait handler whose reply value is an empty NoWait.
// Handlers may also simply return error with no value result to mean
// "wait, empty reply payload"; see RegisterHandler for the exact signature
// rules.
type NoWait struct{}

// FeatureID identifies an optional, wire-visible protocol feature
// negotiated once per connection before any request/response frame flows.
type FeatureID uint32

const (
	// FeatureCompress negotiates transparent per-frame compression.
	FeatureCompress FeatureID = 0
	// FeatureTimeout negotiates transmission of the caller's remaining
	// deadline, in milliseconds, in every request frame header.
	FeatureTimeout FeatureID = 1
)

// FeatureMap is the payload of a negotiation frame: feature id to
// feature-specific opaque bytes.
type FeatureMap map[FeatureID][]byte

// ClientInfo describes the peer and negotiated state of a connection. It is
// injected as the leading argument of a handler that declares it wants one
// (see RegisterHandler), and is stripped from the client-visible stub
// signature.
type ClientInfo struct {
	Addr     net.Addr
	Features FeatureMap
}

func (ci ClientInfo) String() string {
	if ci.Addr == nil {
		return "<unknown>"
	}
	return ci.Addr.String()
}

// Logger is the collaborator interface consumed for connection-lifecycle
// and protocol-error reporting.
type Logger interface {
	Log(info ClientInfo, msg string)
}

// StdLogger logs through the standard library "log" package; no
// structured logging dependency is pulled in for this.
type StdLogger struct{}

func (StdLogger) Log(info ClientInfo, msg string) {
	log.Printf("corerpc: %s: %s", info, msg)
}
