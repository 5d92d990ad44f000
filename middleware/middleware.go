// Package middleware provides composable decorators around request
// dispatch: corerpc.ThunkMiddleware wraps corerpc.Thunk on the server
// side (around handler dispatch), and corerpc.CallerMiddleware wraps
// corerpc.Caller on the client side (around outgoing calls).
package middleware

import "corerpc"

// Chain composes middlewares into one, applied in the order given: the
// first middleware wraps outermost, so it sees a request before and a
// response after every middleware that follows it.
func Chain(middlewares ...corerpc.ThunkMiddleware) corerpc.ThunkMiddleware {
	return func(next corerpc.Thunk) corerpc.Thunk {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// ChainCaller is Chain's client-side counterpart.
func ChainCaller(middlewares ...corerpc.CallerMiddleware) corerpc.CallerMiddleware {
	return func(next corerpc.Caller) corerpc.Caller {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
