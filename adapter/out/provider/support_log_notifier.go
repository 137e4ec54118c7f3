package provider

import (
	"context"

	"support_server/core/port/out"
	"support_server/pkg/logger"
)

// LogNotifier writes outgoing answers to the log instead of mailing them.
// Used when no mailbox is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.WithField("component", "log_notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.log.WithContext(ctx).WithFields(map[string]any{
		"to":      to,
		"subject": subject,
		"length":  len([]rune(body)),
	}).Info("Answer delivered to log")
	return nil
}

var _ out.Notifier = (*LogNotifier)(nil)
