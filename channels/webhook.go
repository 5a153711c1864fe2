package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/agrivoice/horosafe"
)

// PlatformWebhook is the registry name of the webhook sender.
const PlatformWebhook = "webhook"

// WebhookConfig is the per-channel JSON config for webhook relays.
//
//	{"url": "https://relay.example.org/send", "secret": "s3cr3t"}
type WebhookConfig struct {
	// URL receives one JSON-encoded Message per POST.
	URL string `json:"url"`
	// Secret signs the body with HMAC-SHA256 in X-Signature-256.
	Secret string `json:"secret,omitempty"`
	// AllowPrivate permits loopback and RFC 1918 targets.
	AllowPrivate bool `json:"allow_private,omitempty"`
	TimeoutSec   int  `json:"timeout_sec,omitempty"`
}

// WebhookFactory returns a Factory for webhook senders.
func WebhookFactory(client *http.Client) Factory {
	return func(name string, config json.RawMessage) (Sender, error) {
		var cfg WebhookConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("webhook: parse config: %w", err)
		}
		return NewWebhook(name, cfg, client)
	}
}

// Webhook relays messages to an HTTP endpoint, typically an SMS or voice
// gateway that speaks its own provider protocol.
type Webhook struct {
	name   string
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook validates cfg and returns a sender.
func NewWebhook(name string, cfg WebhookConfig, client *http.Client) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook url is required", ErrNotConfigured)
	}
	check := horosafe.ValidatePublicURL
	if cfg.AllowPrivate {
		check = horosafe.ValidateURL
	}
	if err := check(cfg.URL); err != nil {
		return nil, fmt.Errorf("webhook: url: %w", err)
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 15
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	}
	return &Webhook{name: name, cfg: cfg, client: client}, nil
}

// Send POSTs msg as JSON. The response may carry {"id": "..."} as the
// provider id.
func (w *Webhook) Send(ctx context.Context, msg Message) (Receipt, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, w.fail(0, fmt.Errorf("marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, w.fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(body, w.cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Receipt{}, w.fail(0, err)
	}
	defer resp.Body.Close()

	data, _ := horosafe.LimitedReadAll(resp.Body, 1<<16)
	if resp.StatusCode >= 300 {
		return Receipt{}, w.fail(resp.StatusCode, fmt.Errorf("%s", horosafe.Excerpt(data, 200)))
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &out)
	return Receipt{ProviderID: out.ID, Status: out.Status}, nil
}

func (w *Webhook) fail(status int, cause error) error {
	return &ErrSendFailed{Channel: w.name, Platform: PlatformWebhook, Status: status, Cause: cause}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
