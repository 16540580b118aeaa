// Package handler defines the capability interface the server dispatches to,
// and the combinators that let independent capability providers share one
// dispatch slot.
//
// A handler either claims a method (and produces its return value) or leaves
// it unclaimed. The claim is an explicit tag, not a nil sentinel: a handler
// that claims a method and returns nil, false, or zero stays distinguishable
// from one that didn't handle the method at all.
package handler

import "context"

// Result is a handler's tagged outcome for one invocation. The zero value is
// Unclaimed.
type Result struct {
	Claimed bool
	Value   any
}

// Unclaimed is the "not my method" outcome.
var Unclaimed = Result{}

// Claim marks a method as handled with the given return value. Claim(nil) is
// a valid, claimed result.
func Claim(v any) Result {
	return Result{Claimed: true, Value: v}
}

// A Handler responds to one method invocation. Args are positional and
// order-significant. Returning an error counts as claiming the method: the
// handler attempted it and failed, and the failure travels back to the
// caller.
type Handler func(ctx context.Context, method string, args []any) (Result, error)

// Combine merges handlers into one. Every constituent handler is invoked with
// the same method and args — eagerly, with no short-circuit, so providers may
// rely on observing every call. The combined outcome is the first handler, in
// declared order, that claimed the method or failed; if none did, the result
// is Unclaimed with no error.
func Combine(handlers ...Handler) Handler {
	return func(ctx context.Context, method string, args []any) (Result, error) {
		results := make([]Result, len(handlers))
		errs := make([]error, len(handlers))
		for i, h := range handlers {
			results[i], errs[i] = h(ctx, method, args)
		}
		for i := range handlers {
			if errs[i] != nil {
				return Unclaimed, errs[i]
			}
			if results[i].Claimed {
				return results[i], nil
			}
		}
		return Unclaimed, nil
	}
}

// Func implements one named method.
type Func func(ctx context.Context, args []any) (any, error)

// Map builds a Handler from a method table. It claims exactly the methods in
// the table and leaves everything else unclaimed, so several Maps compose
// cleanly under Combine.
func Map(methods map[string]Func) Handler {
	return func(ctx context.Context, method string, args []any) (Result, error) {
		fn, ok := methods[method]
		if !ok {
			return Unclaimed, nil
		}
		v, err := fn(ctx, args)
		if err != nil {
			return Unclaimed, err
		}
		return Claim(v), nil
	}
}
