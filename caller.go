package corerpc

import "context"

// Caller is the narrow interface a generated client stub needs from a
// connection: marshal once, hand raw bytes to the correlator, get raw
// bytes or a typed error back. client.Client implements this; it is the
// only thing package registry depends on from package client, which keeps
// stub construction (reflection, marshalling) decoupled from connection
// management (dialing, correlation, timeouts).
type Caller interface {
	Call(ctx context.Context, t MessageType, payload []byte, wait WaitMode) ([]byte, error)
}

// Thunk is a server-side handler thunk as built by RegisterHandler: given
// the calling connection's info and a request's raw payload, it unmarshals
// arguments, invokes the registered function, and returns the raw reply
// payload (nil for NoWaitMode), the handler's declared wait mode, and any
// error the handler raised.
type Thunk func(ctx context.Context, info ClientInfo, payload []byte) (reply []byte, wait WaitMode, err error)

// ThunkMiddleware decorates a Thunk, the server-side equivalent of an HTTP
// middleware, used for logging, timeouts, and rate limiting around
// handler execution (see package middleware).
type ThunkMiddleware func(next Thunk) Thunk

// CallerMiddleware decorates a Caller, the client-side equivalent of
// ThunkMiddleware, used for retrying failed calls (see package
// middleware).
type CallerMiddleware func(next Caller) Caller
