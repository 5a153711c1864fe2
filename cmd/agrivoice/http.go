package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloghttp "github.com/samber/slog-http"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/agrivoice/noticecast"
	"github.com/hazyhaar/agrivoice/shield"
)

// registerPerMinute throttles the public registration form per client IP.
const registerPerMinute = 10

type api struct {
	svc    *noticecast.Service
	logger *slog.Logger
}

// newRouter builds the control surface. Health, audio and registration are
// public; everything else sits behind basic auth when credentials are set.
func newRouter(svc *noticecast.Service, mcpSrv *mcp.Server, logger *slog.Logger) http.Handler {
	a := &api{svc: svc, logger: logger}
	cfg := svc.Config().HTTP

	r := chi.NewRouter()
	r.Use(sloghttp.Recovery)
	r.Use(sloghttp.NewWithConfig(logger, sloghttp.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/audio/{name}", a.serveAudio)

	limiter := shield.NewRateLimiter(shield.RateLimitConfig{PerMinute: registerPerMinute})
	r.With(limiter.Middleware).Post("/api/registrants", a.register)

	r.Group(func(r chi.Router) {
		if cfg.AuthUser != "" {
			r.Use(basicAuth(cfg.AuthUser, cfg.AuthHash))
		}
		r.Get("/api/registrants", a.listRegistrants)
		r.Get("/api/notices", a.listNotices)
		r.Post("/api/notices", a.addNotice)
		r.Get("/api/notices/{id}", a.getNotice)
		r.Post("/api/ingest", a.submit(a.svc.SubmitIngest))
		r.Post("/api/distribute", a.submit(a.svc.SubmitFanOut))
		r.Post("/api/distribute/{phone}", a.distributeTo)
		r.Post("/api/resend-audio", a.submit(a.svc.SubmitResendAudio))
		r.Get("/api/jobs", a.listJobs)
		r.Get("/api/jobs/{id}", a.getJob)
		r.Get("/api/stats", a.stats)
		r.Handle("/metrics", promhttp.Handler())
		if mcpSrv != nil {
			h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
			r.Handle("/mcp", h)
			r.Handle("/mcp/*", h)
		}
	})
	return r
}

// basicAuth checks the password against a bcrypt hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="agrivoice"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Locality string `json:"locality"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeInput(r, &req, func(get func(string) string) {
		req = registerRequest{Name: get("name"), Phone: get("phone"), Locality: get("locality")}
	}); err != nil {
		a.writeError(w, r, err)
		return
	}
	reg, jobID, err := a.svc.Register(r.Context(), req.Name, req.Phone, req.Locality)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"registrant": reg, "job_id": jobID})
}

func (a *api) listRegistrants(w http.ResponseWriter, r *http.Request) {
	regs, err := a.svc.ListRegistrants(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

type noticeRequest struct {
	Text string `json:"notice"`
}

func (a *api) addNotice(w http.ResponseWriter, r *http.Request) {
	var req noticeRequest
	if err := decodeInput(r, &req, func(get func(string) string) {
		req.Text = get("notice")
	}); err != nil {
		a.writeError(w, r, err)
		return
	}
	n, jobID, err := a.svc.AddNotice(r.Context(), req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"notice": n, "job_id": jobID})
}

func (a *api) listNotices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	ns, err := a.svc.ListNotices(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (a *api) getNotice(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.GetNotice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// submit adapts a job-starting operation to a 202 handler.
func (a *api) submit(start func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := start()
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "started"})
	}
}

func (a *api) distributeTo(w http.ResponseWriter, r *http.Request) {
	id, err := a.svc.SubmitDistributeTo(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "started"})
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.svc.Jobs(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) serveAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := a.svc.OpenAudio(name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mt.String())
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

// decodeInput reads a JSON body into v, or a form through fromForm.
func decodeInput(r *http.Request, v any, fromForm func(get func(string) string)) error {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return &noticecast.ValidationError{Field: "body", Reason: "malformed JSON"}
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return &noticecast.ValidationError{Field: "body", Reason: "malformed form"}
	}
	fromForm(r.PostForm.Get)
	return nil
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, noticecast.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, noticecast.ErrDuplicateRegistrant):
		status = http.StatusConflict
	case errors.Is(err, noticecast.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, noticecast.ErrSynthesisFailed):
		status = http.StatusBadGateway
	case errors.Is(err, noticecast.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("agrivoice: request failed",
			"trace_id", shield.GetTraceID(r.Context()), "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
