package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"corerpc"
)

// RateLimit rejects dispatch with corerpc.RemoteErr once the token bucket
// of rate r (per second) and the given burst is exhausted, without ever
// invoking the wrapped handler.
func RateLimit(r float64, burst int) corerpc.ThunkMiddleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next corerpc.Thunk) corerpc.Thunk {
		return func(ctx context.Context, info corerpc.ClientInfo, payload []byte) ([]byte, corerpc.WaitMode, error) {
			if !limiter.Allow() {
				return nil, corerpc.Wait, corerpc.RemoteErr{Message: "rate limit exceeded"}
			}
			return next(ctx, info, payload)
		}
	}
}
