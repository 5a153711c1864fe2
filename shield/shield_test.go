package shield

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestDefaultStack_HeadersAndTrace(t *testing.T) {
	// WHAT: Every response carries the security headers and a trace id
	// that is also visible to the handler.
	var seen string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r.Context())
		GetLogger(r.Context()).Info("handled")
	}), DefaultStack()...)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing CSP")
	}
	if id := rec.Header().Get("X-Trace-ID"); id == "" || id != seen {
		t.Errorf("trace id header %q, handler saw %q", id, seen)
	}
}

func TestTraceID_KeepsIncoming(t *testing.T) {
	h := TraceID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); got != "abc123" {
		t.Fatalf("trace id = %q", got)
	}
}

func TestHeadToGet(t *testing.T) {
	// WHAT: HEAD reaches a GET-only handler.
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/audio/x.mp3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMaxBody_JSON(t *testing.T) {
	// WHAT: Oversized JSON bodies fail to read.
	var readErr error
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/registrants", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil || readErr.Error() == "EOF" {
		t.Fatalf("read err = %v, want body too large", readErr)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	// WHAT: A client is blocked after its burst; another client is not.
	// WHY: Public registration must not be floodable from one address.
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 2, Burst: 2})
	h := rl.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/registrants", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < 2; i++ {
		if c := do("10.0.0.1"); c != http.StatusOK {
			t.Fatalf("request %d = %d", i, c)
		}
	}
	if c := do("10.0.0.1"); c != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", c)
	}
	if c := do("10.0.0.2"); c != http.StatusOK {
		t.Fatalf("other client = %d", c)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Fatalf("ExtractIP = %q", got)
	}
}
