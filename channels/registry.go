package channels

import (
	"log/slog"
	"net/http"
)

// DefaultRegistry registers every built-in platform. All of them address
// recipients by phone number or pass it through to a relay.
func DefaultRegistry(client *http.Client, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(PlatformTwilioWhatsApp, TwilioWhatsAppFactory(client))
	r.Register(PlatformWebhook, WebhookFactory(client))
	r.Register(PlatformLog, LogFactory(logger))
	return r
}
