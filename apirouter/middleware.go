package apirouter

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper (executed first on the request path).
//
//	chain := Chain(Logging(logger), Recovery(logger))
//	wrapped := chain(baseHandler)
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging returns a middleware that logs every dispatch with its duration.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (*Result, error) {
			start := time.Now()
			res, err := next(ctx, call)
			dur := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "api.call failed",
					"duration_ms", dur.Milliseconds(), "url", call.URL, "error", err)
			} else {
				logger.DebugContext(ctx, "api.call ok",
					"duration_ms", dur.Milliseconds(), "url", call.URL, "ok", res.OK)
			}
			return res, err
		}
	}
}

// Timeout returns a middleware that enforces a maximum call duration.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (*Result, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, call)
		}
	}
}

// Recovery returns a middleware that catches panics in downstream handlers
// and converts them into errors instead of crashing the adapter.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (res *Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "handler panic recovered",
						"panic", r, "stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, call)
		}
	}
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return "apirouter: handler panicked"
}
