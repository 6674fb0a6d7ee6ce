package apirouter

import (
	"context"
	"log/slog"
	"time"
)

// WithRetry returns a HandlerMiddleware that retries failed http(s)
// dispatches with exponential backoff. It respects context cancellation
// between retries.
//
// Parameters:
//   - maxRetries: maximum number of retry attempts (0 = no retry)
//   - baseBackoff: initial wait between retries, doubled each attempt
//   - logger: used to log retry attempts (may be nil for silent retries)
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (*Result, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				res, err := next(ctx, call)
				if err == nil {
					return res, nil
				}
				lastErr = err

				if ctx.Err() != nil {
					return nil, lastErr
				}

				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "retrying api.call",
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}
