package middleware

import (
	"context"
	"log"
	"time"

	"corerpc"
)

// Logging logs every dispatched request: the calling peer (ClientInfo),
// the duration, and the error if the handler raised one. The request's
// MessageType is not logged; a Thunk does not receive it.
func Logging() corerpc.ThunkMiddleware {
	return func(next corerpc.Thunk) corerpc.Thunk {
		return func(ctx context.Context, info corerpc.ClientInfo, payload []byte) ([]byte, corerpc.WaitMode, error) {
			start := time.Now()
			reply, wait, err := next(ctx, info, payload)
			duration := time.Since(start)
			if err != nil {
				log.Printf("corerpc: %s: error after %s: %v", info, duration, err)
			} else {
				log.Printf("corerpc: %s: ok after %s", info, duration)
			}
			return reply, wait, err
		}
	}
}
