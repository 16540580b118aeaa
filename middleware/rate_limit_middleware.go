package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"post-rpc/handler"
)

// ErrRateLimited is returned for invocations rejected by RateLimit. It
// reaches the caller as an error response, not a hung call.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit applies a token-bucket limit of r invocations per second with the
// given burst across all methods behind this middleware.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next handler.Handler) handler.Handler {
		return func(ctx context.Context, method string, args []any) (handler.Result, error) {
			if !limiter.Allow() {
				return handler.Unclaimed, ErrRateLimited
			}
			return next(ctx, method, args)
		}
	}
}
