package middleware

import (
	"context"
	"errors"
	"time"

	"post-rpc/handler"
)

// ErrTimeout is returned when a handler exceeds the Timeout deadline.
var ErrTimeout = errors.New("handler timed out")

type timeoutOutcome struct {
	res handler.Result
	err error
}

// Timeout bounds one handler invocation. On expiry the caller gets an error
// response; the abandoned invocation keeps running until it observes its
// cancelled context.
func Timeout(d time.Duration) Middleware {
	return func(next handler.Handler) handler.Handler {
		return func(ctx context.Context, method string, args []any) (handler.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan timeoutOutcome, 1)
			go func() {
				res, err := next(ctx, method, args)
				done <- timeoutOutcome{res, err}
			}()

			select {
			case out := <-done:
				return out.res, out.err
			case <-ctx.Done():
				return handler.Unclaimed, ErrTimeout
			}
		}
	}
}
