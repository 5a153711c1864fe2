// Package channels delivers outbound messages to messaging platforms.
//
// A Sender pushes one Message to one recipient and reports the provider's
// message id. Senders are built by platform name through a Registry, so the
// service picks its delivery backend from configuration:
//
//	reg := channels.DefaultRegistry(nil, logger)
//	s, err := reg.New("twilio-whatsapp", "wa_main", cfgJSON)
//	rcpt, err := s.Send(ctx, channels.Message{RecipientID: "+919876543210", Text: "नमस्ते"})
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Attachment is a media file linked from a message. URL must be reachable by
// the platform, not just by this process.
type Attachment struct {
	Type     string `json:"type"`                // "audio", "image", "document"
	URL      string `json:"url"`                 // public download URL
	MimeType string `json:"mime_type,omitempty"` // e.g. "audio/mpeg"
	Caption  string `json:"caption,omitempty"`
}

// Message is a platform-neutral outbound message.
type Message struct {
	RecipientID string            `json:"recipient_id"` // E.164 phone or platform chat id
	Text        string            `json:"text"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Receipt acknowledges a message accepted by the platform.
type Receipt struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status,omitempty"`
}

// Sender delivers messages to one platform account.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) (Receipt, error)

func (f SenderFunc) Send(ctx context.Context, msg Message) (Receipt, error) { return f(ctx, msg) }

// Factory builds a Sender from a channel name and its JSON config.
type Factory func(name string, config json.RawMessage) (Sender, error)

// Registry maps platform names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for platform.
func (r *Registry) Register(platform string, f Factory) {
	r.mu.Lock()
	r.factories[platform] = f
	r.mu.Unlock()
}

// New builds a Sender for platform. Unknown platforms return
// *ErrNoPlatformFactory.
func (r *Registry) New(platform, name string, config json.RawMessage) (Sender, error) {
	r.mu.RLock()
	f, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrNoPlatformFactory{Channel: name, Platform: platform}
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	s, err := f(name, config)
	if err != nil {
		return nil, fmt.Errorf("channels: build %s (%s): %w", name, platform, err)
	}
	return s, nil
}

// Platforms lists registered platform names, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
