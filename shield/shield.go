// Package shield provides the HTTP security middleware used by cmd/uicpd:
// security headers, a per-request trace id and structured logger, a body
// size cap, and HEAD-to-GET normalization.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger set by TraceID.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware stack for the adapter's HTTP
// surface, ordered: HeadToGet → SecurityHeaders → MaxFormBody → TraceID.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(1 << 20),
		TraceID,
	}
}
