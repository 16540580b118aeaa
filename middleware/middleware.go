// Package middleware provides composable wrappers around handler.Handler.
//
// Middlewares are applied as an onion: Chain(A, B, C)(h) runs A first on the
// way in and last on the way out, with the handler at the center.
package middleware

import "post-rpc/handler"

type Middleware func(next handler.Handler) handler.Handler

// Chain combines middlewares into one, preserving declared order:
// Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next handler.Handler) handler.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
