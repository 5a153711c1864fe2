package publicurl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStaticAndEnv(t *testing.T) {
	ctx := context.Background()
	u, err := Static("https://agri.example.org/").BaseURL(ctx)
	if err != nil || u != "https://agri.example.org" {
		t.Fatalf("static = %q, %v", u, err)
	}
	if _, err := Static("").BaseURL(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty static err = %v", err)
	}

	t.Setenv("AGRIVOICE_TEST_URL", "http://10.0.0.5:5000")
	u, err = Env("AGRIVOICE_TEST_URL").BaseURL(ctx)
	if err != nil || u != "http://10.0.0.5:5000" {
		t.Fatalf("env = %q, %v", u, err)
	}
	if _, err := Env("AGRIVOICE_TEST_UNSET").BaseURL(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unset env err = %v", err)
	}
}

func TestNgrokProbe_PrefersHTTPS(t *testing.T) {
	// WHAT: The https tunnel wins over an earlier http one.
	// WHY: WhatsApp media links must be fetchable over TLS.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tunnels":[
			{"public_url":"http://abc.ngrok-free.app","proto":"http"},
			{"public_url":"https://abc.ngrok-free.app","proto":"https"}]}`))
	}))
	defer srv.Close()

	u, err := (&NgrokProbe{APIURL: srv.URL, Client: srv.Client()}).BaseURL(context.Background())
	if err != nil || u != "https://abc.ngrok-free.app" {
		t.Fatalf("probe = %q, %v", u, err)
	}
}

func TestNgrokProbe_NoTunnels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tunnels":[]}`))
	}))
	defer srv.Close()

	_, err := (&NgrokProbe{APIURL: srv.URL}).BaseURL(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestChain_FirstSuccess(t *testing.T) {
	c := Chain{Env("AGRIVOICE_TEST_UNSET"), Static("https://fallback.example")}
	u, err := c.BaseURL(context.Background())
	if err != nil || u != "https://fallback.example" {
		t.Fatalf("chain = %q, %v", u, err)
	}
	if _, err := (Chain{Static(""), Env("AGRIVOICE_TEST_UNSET")}).BaseURL(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("all-fail err = %v", err)
	}
}

type countingProvider struct {
	n   int
	url string
}

func (c *countingProvider) BaseURL(context.Context) (string, error) {
	c.n++
	return c.url, nil
}

func TestCached_TTL(t *testing.T) {
	inner := &countingProvider{url: "https://a.example"}
	c := NewCached(inner, time.Minute)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		c.BaseURL(context.Background())
	}
	if inner.n != 1 {
		t.Fatalf("calls = %d, want 1", inner.n)
	}
	now = now.Add(2 * time.Minute)
	c.BaseURL(context.Background())
	if inner.n != 2 {
		t.Fatalf("calls after expiry = %d, want 2", inner.n)
	}
}

func TestMediaURL(t *testing.T) {
	u, err := MediaURL(context.Background(), Static("https://agri.example.org"), "notice_20240312090000_ab12cd.mp3")
	if err != nil || u != "https://agri.example.org/audio/notice_20240312090000_ab12cd.mp3" {
		t.Fatalf("media = %q, %v", u, err)
	}
}
