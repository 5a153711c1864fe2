package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/agrivoice/horosafe"
)

// FieldMap names the JSON keys of one item.
type FieldMap struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	PublishDate string `yaml:"publish_date"`
	FilePath    string `yaml:"file_path"`
}

// FeedConfig describes a JSON listing endpoint.
type FeedConfig struct {
	URL        string            `yaml:"url"`
	Method     string            `yaml:"method"`      // default POST
	WarmupURL  string            `yaml:"warmup_url"`  // fetched first, for session cookies
	UserAgent  string            `yaml:"user_agent"`
	Headers    map[string]string `yaml:"headers"`
	ResultPath string            `yaml:"result_path"` // dot-notation, default "data"
	Fields     FieldMap          `yaml:"fields"`
	Timeout    time.Duration     `yaml:"timeout"`
}

func (c *FeedConfig) defaults() {
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ResultPath == "" {
		c.ResultPath = "data"
	}
	if c.Fields.ID == "" {
		c.Fields.ID = "Id"
	}
	if c.Fields.Title == "" {
		c.Fields.Title = "Title"
	}
	if c.Fields.PublishDate == "" {
		c.Fields.PublishDate = "PublishDate"
	}
	if c.Fields.FilePath == "" {
		c.Fields.FilePath = "FilePath"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Feed reads notices from a JSON endpoint that wraps the item array under
// ResultPath.
type Feed struct {
	cfg    FeedConfig
	client *http.Client
	logger *slog.Logger
}

// NewFeed creates a Feed. A nil client gets one with cfg.Timeout.
func NewFeed(cfg FeedConfig, client *http.Client, logger *slog.Logger) *Feed {
	cfg.defaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{cfg: cfg, client: client, logger: logger}
}

// Fetch calls the endpoint and returns its items in listed order.
func (f *Feed) Fetch(ctx context.Context) ([]Item, error) {
	if f.cfg.WarmupURL != "" {
		if _, err := f.do(ctx, http.MethodGet, f.cfg.WarmupURL, "text/html"); err != nil {
			return nil, err
		}
	}

	body, err := f.do(ctx, f.cfg.Method, f.cfg.URL, "application/json")
	if err != nil {
		return nil, err
	}

	items, err := parseFeed(body, f.cfg.ResultPath, f.cfg.Fields)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("source: feed fetched", "url", f.cfg.URL, "items", len(items))
	return items, nil
}

func (f *Feed) do(ctx context.Context, method, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", accept)
	if method == http.MethodPost {
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, url, err)
	}
	return body, nil
}

// parseFeed decodes body, walks path to the item array and maps fields.
func parseFeed(body []byte, path string, fields FieldMap) ([]Item, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Reason: "json decode: " + err.Error(), Excerpt: horosafe.Excerpt(body, excerptLen)}
	}

	arr, err := walkPath(raw, path)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("walk %q: %v", path, err), Excerpt: horosafe.Excerpt(body, excerptLen)}
	}

	items := make([]Item, 0, len(arr))
	for i, v := range arr {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("item %d is %T, want object", i, v), Excerpt: horosafe.Excerpt(body, excerptLen)}
		}
		items = append(items, Item{
			ID:          strings.TrimSpace(asString(obj[fields.ID])),
			Title:       CleanText(asString(obj[fields.Title])),
			PublishDate: strings.TrimSpace(asString(obj[fields.PublishDate])),
			FilePath:    strings.TrimSpace(asString(obj[fields.FilePath])),
		})
	}
	return items, nil
}

// walkPath follows a dot-notation path to an array. An empty path means the
// root itself must be the array.
func walkPath(v any, path string) ([]any, error) {
	current := v
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, current)
			}
			current, ok = obj[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("not an array: %T", current)
	}
	return arr, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
