package channels

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// LogSender records messages in the log and reports success. It stands in
// when no platform credentials are configured so that runs stay observable.
type LogSender struct {
	name   string
	logger *slog.Logger
}

// PlatformLog is the registry name of LogSender.
const PlatformLog = "log"

// NewLogSender creates a LogSender.
func NewLogSender(name string, logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{name: name, logger: logger}
}

func (l *LogSender) Send(_ context.Context, msg Message) (Receipt, error) {
	media := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		media = append(media, a.URL)
	}
	l.logger.Info("channels: message not delivered, log channel",
		"channel", l.name, "to", msg.RecipientID, "text", msg.Text, "media", media)
	return Receipt{ProviderID: "log-" + time.Now().UTC().Format("20060102T150405.000000000"), Status: "logged"}, nil
}

// LogFactory returns a Factory for LogSender.
func LogFactory(logger *slog.Logger) Factory {
	return func(name string, _ json.RawMessage) (Sender, error) {
		return NewLogSender(name, logger), nil
	}
}
