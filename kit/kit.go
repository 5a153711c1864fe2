// Package kit is the transport-agnostic endpoint layer: service operations
// are written once as an Endpoint and exposed over MCP (and wrapped by the
// same middlewares) without knowing the transport.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a single service operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Logging logs each call with its duration and error, if any.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("kit: endpoint failed", "endpoint", name, "duration", time.Since(start), "error", err)
			} else {
				logger.Debug("kit: endpoint ok", "endpoint", name, "duration", time.Since(start))
			}
			return resp, err
		}
	}
}
