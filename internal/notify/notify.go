// Package notify fires best-effort operator notifications when a
// branch's circuit breaker opens, so an operator learns an LMS branch
// is unreachable without having to read logs.
package notify

import (
	"log/slog"
	"time"
)

// Notifier is implemented by every notification backend.
type Notifier interface {
	NotifyCircuitOpen(branchID string, retryAt time.Time) error
}

// LogNotifier is the default backend: it logs the notification via
// slog instead of sending it anywhere, the same fallback role
// pkg/notify.LogNotifier plays for unconfigured SMTP.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier constructs a LogNotifier. A nil logger falls back to
// slog.Default().
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyCircuitOpen(branchID string, retryAt time.Time) error {
	n.log.Warn("circuit opened",
		"branchId", branchID,
		"retryAt", retryAt,
	)
	return nil
}

// NewFromEnv returns an SMTPNotifier when SMTP_HOST, SMTP_FROM, and
// SMTP_NOTIFY_TO are all set, and a LogNotifier otherwise.
func NewFromEnv(log *slog.Logger) Notifier {
	smtpNotifier := NewSMTPNotifier()
	if smtpNotifier.Configured() {
		return smtpNotifier
	}
	return NewLogNotifier(log)
}
