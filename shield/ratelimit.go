package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimitConfig sets the per-client allowance.
type RateLimitConfig struct {
	PerMinute int           // sustained requests per minute, default 30
	Burst     int           // default PerMinute
	Clients   int           // tracked clients, default 10000
	IdleTTL   time.Duration // forget a client after this long, default 10m
}

// RateLimiter is a per-client token bucket. Buckets live in an expiring
// LRU so idle clients are dropped without a GC goroutine.
type RateLimiter struct {
	cfg     RateLimitConfig
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	if cfg.Clients <= 0 {
		cfg.Clients = 10000
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: expirable.NewLRU[string, *rate.Limiter](cfg.Clients, nil, cfg.IdleTTL),
	}
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	lim, ok := rl.buckets.Get(client)
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.cfg.PerMinute)), rl.cfg.Burst)
		rl.buckets.Add(client, lim)
	}
	return lim.Allow()
}

// Middleware answers 429 with a JSON error once a client's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	retry := strconv.Itoa(int((time.Minute / time.Duration(rl.cfg.PerMinute)).Seconds()) + 1)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", retry)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
