package middleware

import (
	"context"
	"time"

	"corerpc"
)

// Timeout bounds handler execution to timeout, returning corerpc.TimeoutErr
// if it's exceeded. The handler goroutine is not interrupted: ctx is
// canceled, but a handler that ignores ctx keeps running in the
// background after Timeout has already replied with an error.
func Timeout(timeout time.Duration) corerpc.ThunkMiddleware {
	return func(next corerpc.Thunk) corerpc.Thunk {
		return func(ctx context.Context, info corerpc.ClientInfo, payload []byte) ([]byte, corerpc.WaitMode, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				reply []byte
				wait  corerpc.WaitMode
				err   error
			}
			done := make(chan result, 1)
			go func() {
				reply, wait, err := next(ctx, info, payload)
				done <- result{reply, wait, err}
			}()

			select {
			case r := <-done:
				return r.reply, r.wait, r.err
			case <-ctx.Done():
				return nil, corerpc.Wait, corerpc.TimeoutErr{}
			}
		}
	}
}
