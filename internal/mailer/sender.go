package mailer

import (
	"context"
	"log/slog"
)

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// LogSender writes emails to the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, e Email) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email sent", "from", e.From, "to", e.To, "subject", e.Subject, "links", len(e.Links), "text_bytes", len(e.Text))
	return nil
}
