package middleware

import (
	"context"
	"errors"
	"time"

	"corerpc"
)

// Retry retries a failed call up to maxRetries times with exponential
// backoff, but only for corerpc.TimeoutErr; any other error (including a
// handler's RemoteErr) is assumed not to be transient and is returned
// immediately, since a wait-mode call has no way to know whether the
// handler's side effects already happened once the request frame reached
// the server.
func Retry(maxRetries int, baseDelay time.Duration) corerpc.CallerMiddleware {
	return func(next corerpc.Caller) corerpc.Caller {
		return retryCaller{next: next, maxRetries: maxRetries, baseDelay: baseDelay}
	}
}

type retryCaller struct {
	next       corerpc.Caller
	maxRetries int
	baseDelay  time.Duration
}

func (c retryCaller) Call(ctx context.Context, t corerpc.MessageType, payload []byte, wait corerpc.WaitMode) ([]byte, error) {
	reply, err := c.next.Call(ctx, t, payload, wait)
	for i := 0; i < c.maxRetries && isRetryable(err); i++ {
		select {
		case <-time.After(c.baseDelay * (1 << i)):
		case <-ctx.Done():
			return nil, err
		}
		reply, err = c.next.Call(ctx, t, payload, wait)
	}
	return reply, err
}

func isRetryable(err error) bool {
	var timeoutErr corerpc.TimeoutErr
	return errors.As(err, &timeoutErr)
}
