package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/agrivoice/horosafe"
)

// PlatformTwilioWhatsApp is the registry name of the Twilio WhatsApp sender.
const PlatformTwilioWhatsApp = "twilio-whatsapp"

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// DefaultWhatsAppFrom is the Twilio WhatsApp sandbox number.
const DefaultWhatsAppFrom = "whatsapp:+14155238886"

// TwilioConfig is the per-channel JSON config for Twilio WhatsApp.
//
//	{"account_sid": "AC...", "auth_token": "...", "from": "whatsapp:+14155238886"}
type TwilioConfig struct {
	AccountSID     string `json:"account_sid"`
	AuthToken      string `json:"auth_token"`
	From           string `json:"from,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	StatusCallback string `json:"status_callback,omitempty"`
	TimeoutSec     int    `json:"timeout_sec,omitempty"`
}

// TwilioWhatsAppFactory returns a Factory for Twilio WhatsApp senders.
func TwilioWhatsAppFactory(client *http.Client) Factory {
	return func(name string, config json.RawMessage) (Sender, error) {
		var cfg TwilioConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("twilio: parse config: %w", err)
		}
		return NewTwilioWhatsApp(name, cfg, client)
	}
}

// TwilioWhatsApp sends WhatsApp messages through the Twilio Messages API.
type TwilioWhatsApp struct {
	name     string
	cfg      TwilioConfig
	client   *http.Client
	endpoint string
}

// NewTwilioWhatsApp validates cfg and returns a sender.
func NewTwilioWhatsApp(name string, cfg TwilioConfig, client *http.Client) (*TwilioWhatsApp, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio account_sid and auth_token are required", ErrNotConfigured)
	}
	if cfg.From == "" {
		cfg.From = DefaultWhatsAppFrom
	}
	cfg.From = whatsappAddr(cfg.From)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.AccountSID))
	return &TwilioWhatsApp{name: name, cfg: cfg, client: client, endpoint: endpoint}, nil
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts one message. Every attachment URL becomes a MediaUrl.
func (c *TwilioWhatsApp) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.RecipientID == "" {
		return Receipt{}, c.fail(0, fmt.Errorf("empty recipient"))
	}
	form := url.Values{}
	form.Set("From", c.cfg.From)
	form.Set("To", whatsappAddr(msg.RecipientID))
	if msg.Text != "" {
		form.Set("Body", msg.Text)
	}
	for _, a := range msg.Attachments {
		form.Add("MediaUrl", a.URL)
	}
	if c.cfg.StatusCallback != "" {
		form.Set("StatusCallback", c.cfg.StatusCallback)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, c.fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return Receipt{}, c.fail(0, err)
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return Receipt{}, c.fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	var tr twilioResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cause := tr.Message
		if cause == "" {
			cause = horosafe.Excerpt(body, 200)
		}
		if tr.Code != 0 {
			cause = fmt.Sprintf("twilio %d: %s", tr.Code, cause)
		}
		return Receipt{}, c.fail(resp.StatusCode, fmt.Errorf("%s", cause))
	}
	return Receipt{ProviderID: tr.SID, Status: tr.Status}, nil
}

func (c *TwilioWhatsApp) fail(status int, cause error) error {
	return &ErrSendFailed{Channel: c.name, Platform: PlatformTwilioWhatsApp, Status: status, Cause: cause}
}

func whatsappAddr(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "whatsapp:") {
		return s
	}
	return "whatsapp:" + s
}
