package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"post-rpc/handler"
)

// Logging records every dispatched method with its duration, whether any
// handler claimed it, and the error if it failed.
func Logging(log *zap.Logger) Middleware {
	return func(next handler.Handler) handler.Handler {
		return func(ctx context.Context, method string, args []any) (handler.Result, error) {
			start := time.Now()
			res, err := next(ctx, method, args)
			fields := []zap.Field{
				zap.String("method", method),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("claimed", res.Claimed),
			}
			if err != nil {
				log.Warn("method failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("method dispatched", fields...)
			}
			return res, err
		}
	}
}
