package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/agrivoice/idgen"
)

var newTraceID = idgen.NanoID(8)

// TraceID assigns each request a short trace id, echoed in X-Trace-ID, and
// a per-request logger carrying it. An incoming X-Trace-ID is kept.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 64 {
			traceID = newTraceID()
		}
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With("trace_id", traceID)
		ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTraceID returns the request trace id, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
