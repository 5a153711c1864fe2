package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/agrivoice/noticecast"
)

var fakeMP3 = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x0a"), make([]byte, 64)...)

type testEnv struct {
	svc *noticecast.Service
	srv *httptest.Server
}

// newTestEnv runs the real service against fake feed and TTS endpoints.
func newTestEnv(t *testing.T, authUser, password string) *testEnv {
	t.Helper()

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"Id":101,"Title":"Rain alert for Nashik","PublishDate":"12/03/2024","FilePath":"/files/101.pdf"}]}`)
	}))
	t.Cleanup(feed.Close)
	tts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(fakeMP3)
	}))
	t.Cleanup(tts.Close)

	dir := t.TempDir()
	cfg := &noticecast.Config{
		DBPath:   filepath.Join(dir, "agrivoice.db"),
		AudioDir: filepath.Join(dir, "audio"),
		Source:   noticecast.SourceConfig{URL: feed.URL},
		Speech:   noticecast.SpeechConfig{URL: tts.URL},
		Schedule: noticecast.ScheduleConfig{Disabled: true},
		Distribute: noticecast.DistributeConfig{
			MessageDelay:   time.Nanosecond,
			RecipientDelay: time.Nanosecond,
		},
		PublicURL: noticecast.PublicURLConfig{Static: "https://farm.example"},
	}
	if authUser != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatal(err)
		}
		cfg.HTTP.AuthUser, cfg.HTTP.AuthHash = authUser, string(hash)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := noticecast.New(context.Background(), cfg, noticecast.WithLogger(logger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	srv := httptest.NewServer(newRouter(svc, nil, logger))
	t.Cleanup(srv.Close)
	return &testEnv{svc: svc, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string, auth ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, "", "")
	resp, body := e.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("health = %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("missing trace id")
	}
}

func TestRegistrants(t *testing.T) {
	// WHAT: JSON and form registrations map to 201, 409 and 400.
	e := newTestEnv(t, "", "")

	resp, body := e.do(t, http.MethodPost, "/api/registrants", "application/json",
		`{"name":"Ravi","phone":"98765 43210","locality":"Nashik"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register = %d %s", resp.StatusCode, body)
	}
	var created struct {
		Registrant noticecast.Registrant `json:"registrant"`
		JobID      string                `json:"job_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.Registrant.Phone != "+919876543210" || created.JobID == "" {
		t.Fatalf("created = %+v", created)
	}

	form := url.Values{"name": {"Ravi"}, "phone": {"+919876543210"}, "locality": {"Pune"}}.Encode()
	if resp, _ := e.do(t, http.MethodPost, "/api/registrants", "application/x-www-form-urlencoded", form); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate = %d", resp.StatusCode)
	}
	form = url.Values{"name": {"Asha"}, "phone": {"12345"}, "locality": {"Pune"}}.Encode()
	if resp, _ := e.do(t, http.MethodPost, "/api/registrants", "application/x-www-form-urlencoded", form); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid phone = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/api/registrants", "application/json", `{"name":`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed json = %d", resp.StatusCode)
	}
	e.svc.WaitJobs()

	resp, body = e.do(t, http.MethodGet, "/api/registrants", "", "")
	var regs []noticecast.Registrant
	if err := json.Unmarshal(body, &regs); err != nil || len(regs) != 1 {
		t.Fatalf("list = %d %s", resp.StatusCode, body)
	}
}

func TestIngestJobAndAudio(t *testing.T) {
	// WHAT: POST /api/ingest starts a job; once done the notice is listed
	// and its audio is served as audio/mpeg.
	e := newTestEnv(t, "", "")

	resp, body := e.do(t, http.MethodPost, "/api/ingest", "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest = %d %s", resp.StatusCode, body)
	}
	var started map[string]string
	json.Unmarshal(body, &started)
	e.svc.WaitJobs()

	_, body = e.do(t, http.MethodGet, "/api/jobs/"+started["job_id"], "", "")
	var job noticecast.Job
	if err := json.Unmarshal(body, &job); err != nil || job.Status != "succeeded" {
		t.Fatalf("job = %s", body)
	}

	_, body = e.do(t, http.MethodGet, "/api/notices?limit=5", "", "")
	var notices []noticecast.Notice
	if err := json.Unmarshal(body, &notices); err != nil || len(notices) != 1 {
		t.Fatalf("notices = %s", body)
	}
	n := notices[0]
	if !strings.HasPrefix(n.Text, "Rain alert for Nashik") || n.Audio == "" {
		t.Fatalf("notice = %+v", n)
	}

	resp, body = e.do(t, http.MethodGet, "/audio/"+n.Audio, "", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("audio = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if len(body) != len(fakeMP3) {
		t.Fatalf("audio bytes = %d", len(body))
	}

	if resp, _ := e.do(t, http.MethodGet, "/audio/..%2Fagrivoice.db", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("traversal = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/api/notices/missing", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing notice = %d", resp.StatusCode)
	}
}

func TestDistributeUnknownPhone(t *testing.T) {
	e := newTestEnv(t, "", "")
	if resp, _ := e.do(t, http.MethodPost, "/api/distribute/9876543210", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown phone = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/api/distribute", "", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("fan-out = %d", resp.StatusCode)
	}
	e.svc.WaitJobs()
}

func TestBasicAuth(t *testing.T) {
	// WHAT: With credentials configured the admin routes need them, while
	// health, audio and registration stay public.
	e := newTestEnv(t, "admin", "s3cret")

	if resp, _ := e.do(t, http.MethodGet, "/api/notices", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no auth = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/api/notices", "", "", "admin", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/api/notices", "", "", "admin", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("good auth = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/metrics", "", "", "admin", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/health", "", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
	resp, _ := e.do(t, http.MethodPost, "/api/registrants", "application/json",
		`{"name":"Ravi","phone":"9876543210","locality":"Nashik"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("public register = %d", resp.StatusCode)
	}
	e.svc.WaitJobs()
}

func TestHashPasswordCommand(t *testing.T) {
	app := newApp()
	var out strings.Builder
	app.Reader = strings.NewReader("hunter2\n")
	app.Writer = &out
	if err := app.Run([]string{"agrivoice", "hash-password"}); err != nil {
		t.Fatal(err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}
