// Package distribute delivers notices to registrants over a messaging
// channel. Every send is best-effort: failures are counted and logged, and
// never stop delivery to other recipients or of other notices.
package distribute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/agrivoice/channels"
	"github.com/hazyhaar/agrivoice/noticecast/internal/metrics"
	"github.com/hazyhaar/agrivoice/noticecast/internal/speech"
	"github.com/hazyhaar/agrivoice/noticecast/internal/store"
	"github.com/hazyhaar/agrivoice/publicurl"
)

// Message templates (Hindi).
const (
	greetingLatest   = "नमस्ते %s! आपका AGRIVOICE में स्वागत है। यहां आपके लिए नवीनतम कृषि सूचनाएँ हैं:"
	greetingResend   = "नमस्ते %s! यहां आपके लिए नवीनतम कृषि ऑडियो फ़ाइलें हैं:"
	labelVoice       = "सूचना %d/%d"
	labelStoredAudio = "सूचना %d/%d का ऑडियो"
	labelResendAudio = "ऑडियो फ़ाइल %d/%d"
	labelBroadcast   = "नई कृषि सूचना वॉइस नोट"
	defaultName      = "किसान मित्र"
)

// Config holds the throttling and content settings.
type Config struct {
	Count                int           `yaml:"count"`                  // notices per distribution, default 3
	Lang                 string        `yaml:"lang"`                   // synthesis language, default "hi"
	MessageDelay         time.Duration `yaml:"message_delay"`          // between messages to one recipient
	RecipientDelay       time.Duration `yaml:"recipient_delay"`        // before spawning the next recipient
	ResendMessageDelay   time.Duration `yaml:"resend_message_delay"`   // daily resend, between messages
	ResendRecipientDelay time.Duration `yaml:"resend_recipient_delay"` // daily resend, between recipients
	MaxConcurrent        int           `yaml:"max_concurrent"`         // 0 means one goroutine per recipient
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		Count:                3,
		Lang:                 "hi",
		MessageDelay:         2 * time.Second,
		RecipientDelay:       time.Second,
		ResendMessageDelay:   3 * time.Second,
		ResendRecipientDelay: 2 * time.Second,
	}
}

// Outcome is the result for one recipient.
type Outcome struct {
	RegistrantID string   `json:"registrant_id,omitempty"`
	Phone        string   `json:"phone"`
	Attempted    int      `json:"attempted"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	Skipped      bool     `json:"skipped,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Report aggregates a distribution run.
type Report struct {
	Recipients   int       `json:"recipients"`
	Notices      int       `json:"notices"`
	Attempted    int       `json:"attempted"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	RecipientsOK int       `json:"recipients_ok"` // recipients with every send delivered
	Outcomes     []Outcome `json:"outcomes,omitempty"`
}

func (r *Report) add(o Outcome) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	if o.Attempted > 0 && o.Failed == 0 && !o.Skipped {
		r.RecipientsOK++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Engine is the distribution engine.
type Engine struct {
	store     *store.Store
	sender    channels.Sender
	voice     speech.Synthesizer
	urls      publicurl.Provider
	cfg       Config
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	newLimits func(d time.Duration) *rate.Limiter
}

// New creates an Engine. voice synthesizes the ad-hoc voice notes and
// should be wrapped in speech.Cached. Zero Config fields take defaults,
// except delays, which may legitimately be zero.
func New(st *store.Store, sender channels.Sender, voice speech.Synthesizer, urls publicurl.Provider, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.Lang == "" {
		cfg.Lang = def.Lang
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		sender: sender,
		voice:  voice,
		urls:   urls,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
		newLimits: func(d time.Duration) *rate.Limiter {
			if d <= 0 {
				return rate.NewLimiter(rate.Inf, 1)
			}
			return rate.NewLimiter(rate.Every(d), 1)
		},
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// DistributeLatest sends the count latest notices to each recipient in
// turn. Used for single-recipient sends and as the serial form of FanOut.
func (e *Engine) DistributeLatest(ctx context.Context, recipients []*store.Registrant, count int) (*Report, error) {
	notices, err := e.latest(ctx, count)
	if err != nil {
		return nil, err
	}
	rep := &Report{Recipients: len(recipients), Notices: len(notices)}
	if len(notices) == 0 {
		e.logger.Warn("distribute: no notices to send")
		return rep, nil
	}
	for i, r := range recipients {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.RecipientDelay); err != nil {
				break
			}
		}
		rep.add(e.sendLatest(ctx, r, notices))
	}
	e.logReport("distribute: latest sent", rep)
	return rep, nil
}

// FanOut sends the count latest notices to every registrant. Each
// recipient's sequence runs on its own goroutine; RecipientDelay is waited
// before each spawn after the first.
func (e *Engine) FanOut(ctx context.Context, count int) (*Report, error) {
	notices, err := e.latest(ctx, count)
	if err != nil {
		return nil, err
	}
	recipients, err := e.store.ListRegistrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("distribute: read registrants: %w", err)
	}
	rep := &Report{Recipients: len(recipients), Notices: len(notices)}
	if len(notices) == 0 {
		e.logger.Warn("distribute: no notices to send")
		return rep, nil
	}
	if len(recipients) == 0 {
		e.logger.Warn("distribute: no registrants")
		return rep, nil
	}

	outcomes := e.spawn(ctx, recipients, e.cfg.RecipientDelay, func(ctx context.Context, r *store.Registrant) Outcome {
		return e.sendLatest(ctx, r, notices)
	})
	for _, o := range outcomes {
		rep.add(o)
	}
	e.logReport("distribute: fan-out done", rep)
	return rep, nil
}

// Broadcast sends a freshly created notice as one voice note to every
// registrant. The stored artifact is used when present, otherwise the text
// is synthesized once.
func (e *Engine) Broadcast(ctx context.Context, n *store.Notice) (*Report, error) {
	recipients, err := e.store.ListRegistrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("distribute: read registrants: %w", err)
	}
	rep := &Report{Recipients: len(recipients), Notices: 1}
	if len(recipients) == 0 {
		e.logger.Warn("distribute: no registrants")
		return rep, nil
	}

	audio := n.Audio
	if audio == "" {
		if art, err := e.voice.Synthesize(ctx, n.Text, e.cfg.Lang); err == nil {
			audio = art.Name
		} else {
			e.logger.Warn("distribute: broadcast synthesis failed, sending text", "notice", n.ID, "error", err)
		}
	}
	msg := e.audioMessage(ctx, labelBroadcast, audio, n.Text)

	outcomes := e.spawn(ctx, recipients, e.cfg.RecipientDelay, func(ctx context.Context, r *store.Registrant) Outcome {
		o := Outcome{RegistrantID: r.ID, Phone: r.Phone}
		m := msg
		m.RecipientID = r.Phone
		e.send(ctx, &o, nil, m)
		return o
	})
	for _, o := range outcomes {
		rep.add(o)
	}
	e.logReport("distribute: broadcast done", rep)
	return rep, nil
}

// ResendRecentAudio is the daily bulk job: a greeting then the stored audio
// of the count latest voiced notices, recipient after recipient. A
// recipient whose greeting fails is skipped.
func (e *Engine) ResendRecentAudio(ctx context.Context, count int) (*Report, error) {
	if count <= 0 {
		count = e.cfg.Count
	}
	notices, err := e.store.LatestWithAudio(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("distribute: read notices: %w", err)
	}
	recipients, err := e.store.ListRegistrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("distribute: read registrants: %w", err)
	}
	rep := &Report{Recipients: len(recipients), Notices: len(notices)}
	if len(notices) == 0 {
		e.logger.Warn("distribute: no audio files to resend")
		return rep, nil
	}

	for i, r := range recipients {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.ResendRecipientDelay); err != nil {
				break
			}
		}
		lim := e.newLimits(e.cfg.ResendMessageDelay)
		o := Outcome{RegistrantID: r.ID, Phone: r.Phone}
		if !e.send(ctx, &o, lim, channels.Message{RecipientID: r.Phone, Text: fmt.Sprintf(greetingResend, displayName(r))}) {
			o.Skipped = true
			e.logger.Warn("distribute: greeting failed, skipping recipient", "phone", r.Phone)
			rep.add(o)
			continue
		}
		for j, n := range notices {
			m := e.audioMessage(ctx, fmt.Sprintf(labelResendAudio, j+1, len(notices)), n.Audio, "")
			m.RecipientID = r.Phone
			e.send(ctx, &o, lim, m)
		}
		rep.add(o)
	}
	e.logReport("distribute: audio resend done", rep)
	return rep, nil
}

// sendLatest runs the per-recipient sequence: greeting, then for each
// notice a voice note and, when stored audio exists, the stored artifact.
func (e *Engine) sendLatest(ctx context.Context, r *store.Registrant, notices []*store.Notice) Outcome {
	o := Outcome{RegistrantID: r.ID, Phone: r.Phone}
	lim := e.newLimits(e.cfg.MessageDelay)

	e.send(ctx, &o, lim, channels.Message{RecipientID: r.Phone, Text: fmt.Sprintf(greetingLatest, displayName(r))})

	total := len(notices)
	for i, n := range notices {
		label := fmt.Sprintf(labelVoice, i+1, total)
		voiced := ""
		if art, err := e.voice.Synthesize(ctx, n.Text, e.cfg.Lang); err == nil {
			voiced = art.Name
		} else {
			e.logger.Warn("distribute: voice synthesis failed, sending text", "notice", n.ID, "error", err)
		}
		m := e.audioMessage(ctx, label, voiced, n.Text)
		m.RecipientID = r.Phone
		e.send(ctx, &o, lim, m)

		if n.Audio != "" {
			m := e.audioMessage(ctx, fmt.Sprintf(labelStoredAudio, i+1, total), n.Audio, "")
			m.RecipientID = r.Phone
			e.send(ctx, &o, lim, m)
		}
	}
	return o
}

// audioMessage builds a message linking the named artifact. When the
// artifact is missing or its public URL cannot be resolved, the message
// falls back to label plus fallbackText.
func (e *Engine) audioMessage(ctx context.Context, label, artifact, fallbackText string) channels.Message {
	if artifact != "" {
		u, err := publicurl.MediaURL(ctx, e.urls, artifact)
		if err == nil {
			return channels.Message{
				Text:        label,
				Attachments: []channels.Attachment{{Type: "audio", URL: u, MimeType: "audio/mpeg"}},
			}
		}
		e.logger.Warn("distribute: no public URL for media", "artifact", artifact, "error", err)
	}
	if fallbackText == "" {
		// Nothing to say without the audio; the send still counts as failed.
		return channels.Message{Metadata: map[string]string{"missing_media": artifact}}
	}
	return channels.Message{Text: label + "\n" + fallbackText}
}

// send waits for the limiter, sends one message and records the outcome.
func (e *Engine) send(ctx context.Context, o *Outcome, lim *rate.Limiter, msg channels.Message) bool {
	o.Attempted++
	var err error
	switch {
	case msg.Text == "" && len(msg.Attachments) == 0:
		err = fmt.Errorf("distribute: no content for %s (media unavailable)", msg.Metadata["missing_media"])
	case lim != nil:
		err = lim.Wait(ctx)
	}
	if err == nil {
		var rcpt channels.Receipt
		rcpt, err = e.sender.Send(ctx, msg)
		if err == nil {
			e.logger.Debug("distribute: sent", "to", msg.RecipientID, "provider_id", rcpt.ProviderID)
		}
	}
	metrics.Messages.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		o.Failed++
		o.Errors = append(o.Errors, err.Error())
		e.logger.Error("distribute: send failed", "to", msg.RecipientID, "error", err)
		return false
	}
	o.Succeeded++
	return true
}

// spawn runs fn for every recipient on its own goroutine, waiting delay
// before each spawn after the first. Outcomes keep recipient order.
func (e *Engine) spawn(ctx context.Context, recipients []*store.Registrant, delay time.Duration, fn func(context.Context, *store.Registrant) Outcome) []Outcome {
	outcomes := make([]Outcome, len(recipients))
	var g errgroup.Group
	if e.cfg.MaxConcurrent > 0 {
		g.SetLimit(e.cfg.MaxConcurrent)
	}
	var mu sync.Mutex
	for i, r := range recipients {
		if i > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				mu.Lock()
				for j := i; j < len(recipients); j++ {
					outcomes[j] = Outcome{RegistrantID: recipients[j].ID, Phone: recipients[j].Phone, Skipped: true}
				}
				mu.Unlock()
				break
			}
		}
		g.Go(func() error {
			o := fn(ctx, r)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) latest(ctx context.Context, count int) ([]*store.Notice, error) {
	if count <= 0 {
		count = e.cfg.Count
	}
	notices, err := e.store.LatestNotices(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("distribute: read notices: %w", err)
	}
	return notices, nil
}

func (e *Engine) logReport(msg string, rep *Report) {
	e.logger.Info(msg, "recipients", rep.Recipients, "notices", rep.Notices,
		"attempted", rep.Attempted, "succeeded", rep.Succeeded, "failed", rep.Failed)
}

func displayName(r *store.Registrant) string {
	if r.Name == "" {
		return defaultName
	}
	return r.Name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
