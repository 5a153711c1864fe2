// Package shield provides the HTTP middleware guarding the agrivoice
// control surface: security headers, HEAD handling, body limits, request
// trace ids and per-client rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(shield.RateLimitConfig{PerMinute: 10}).Middleware).
//	    Post("/api/registrants", register)
package shield

import "net/http"

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceIDKey is the context key for the request trace id.
	TraceIDKey contextKey = "shield_trace_id"
)

// DefaultBodyLimit caps form and JSON request bodies.
const DefaultBodyLimit = 64 * 1024

// DefaultStack returns the standard middleware stack, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, TraceID.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultBodyLimit),
		TraceID,
	}
}
