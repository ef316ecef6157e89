package mailer

import (
	"context"
	"log/slog"
)

// Log writes messages to the logger instead of sending them. It is used when
// mail delivery is disabled in the configuration.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg)
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "mail not delivered (disabled)",
		"kind", msg.Kind(),
		"subject", msg.Subject,
		"to", msg.To,
		"bcc", len(msg.Bcc),
		"body", body,
	)
	return nil
}
