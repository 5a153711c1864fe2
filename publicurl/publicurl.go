// Package publicurl resolves the externally reachable base URL of the
// service. Media links handed to messaging platforms are built from it, so
// it must be known before the first send.
package publicurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/agrivoice/horosafe"
)

// ErrUnavailable is returned when a provider has no URL to offer.
var ErrUnavailable = errors.New("publicurl: base URL unavailable")

// Provider yields the base URL, without trailing slash.
type Provider interface {
	BaseURL(ctx context.Context) (string, error)
}

// Static always returns the same URL.
type Static string

func (s Static) BaseURL(context.Context) (string, error) {
	if s == "" {
		return "", ErrUnavailable
	}
	return normalize(string(s))
}

// Env reads the URL from an environment variable on every call.
type Env string

func (e Env) BaseURL(context.Context) (string, error) {
	v := os.Getenv(string(e))
	if v == "" {
		return "", fmt.Errorf("%w: $%s is empty", ErrUnavailable, string(e))
	}
	return normalize(v)
}

// DefaultNgrokAPI is the local ngrok agent API.
const DefaultNgrokAPI = "http://127.0.0.1:4040/api/tunnels"

// NgrokProbe asks a local ngrok agent for its public tunnel. HTTPS tunnels
// are preferred, otherwise the first tunnel is used.
type NgrokProbe struct {
	APIURL string
	Client *http.Client
}

func (p *NgrokProbe) BaseURL(ctx context.Context) (string, error) {
	api := p.APIURL
	if api == "" {
		api = DefaultNgrokAPI
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api, nil)
	if err != nil {
		return "", fmt.Errorf("publicurl: ngrok request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ngrok api: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ngrok api: http %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return "", fmt.Errorf("publicurl: ngrok read: %w", err)
	}
	var data struct {
		Tunnels []struct {
			PublicURL string `json:"public_url"`
			Proto     string `json:"proto"`
		} `json:"tunnels"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("publicurl: ngrok decode: %w", err)
	}
	if len(data.Tunnels) == 0 {
		return "", fmt.Errorf("%w: ngrok has no tunnels", ErrUnavailable)
	}
	for _, t := range data.Tunnels {
		if t.Proto == "https" {
			return normalize(t.PublicURL)
		}
	}
	return normalize(data.Tunnels[0].PublicURL)
}

// Chain returns the first provider answer that succeeds.
type Chain []Provider

func (c Chain) BaseURL(ctx context.Context) (string, error) {
	var errs []error
	for _, p := range c {
		u, err := p.BaseURL(ctx)
		if err == nil {
			return u, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrUnavailable
	}
	return "", errors.Join(errs...)
}

// Cached remembers a successful answer for TTL. Failures are not cached.
type Cached struct {
	next Provider
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	value   string
	expires time.Time
}

// NewCached wraps next.
func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{next: next, ttl: ttl, now: time.Now}
}

func (c *Cached) BaseURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != "" && c.now().Before(c.expires) {
		return c.value, nil
	}
	u, err := c.next.BaseURL(ctx)
	if err != nil {
		return "", err
	}
	c.value, c.expires = u, c.now().Add(c.ttl)
	return u, nil
}

// MediaURL is the public link of an audio artifact.
func MediaURL(ctx context.Context, p Provider, name string) (string, error) {
	base, err := p.BaseURL(ctx)
	if err != nil {
		return "", err
	}
	return base + "/audio/" + url.PathEscape(name), nil
}

func normalize(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if err := horosafe.ValidateURL(raw); err != nil {
		return "", fmt.Errorf("publicurl: %q: %w", raw, err)
	}
	return raw, nil
}
