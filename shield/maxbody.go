package shield

import (
	"mime"
	"net/http"
)

// MaxBody returns middleware that limits the request body size for form
// and JSON requests. Other content types are passed through.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			switch mt {
			case "application/x-www-form-urlencoded", "multipart/form-data", "application/json":
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
