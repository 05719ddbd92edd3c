package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"time"
)

// SMTPNotifier sends the circuit-open notice by email, configured
// from SMTP_* environment variables exactly as pkg/notify/email.go's
// EmailService is.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       string
}

// NewSMTPNotifier reads SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS,
// SMTP_FROM, and SMTP_NOTIFY_TO from the environment.
func NewSMTPNotifier() *SMTPNotifier {
	return &SMTPNotifier{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		username: os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASS"),
		from:     os.Getenv("SMTP_FROM"),
		to:       os.Getenv("SMTP_NOTIFY_TO"),
	}
}

// Configured reports whether enough SMTP settings are present to
// attempt a send.
func (s *SMTPNotifier) Configured() bool {
	return s.host != "" && s.from != "" && s.to != ""
}

func (s *SMTPNotifier) NotifyCircuitOpen(branchID string, retryAt time.Time) error {
	if !s.Configured() {
		slog.Warn("SMTP not configured, skipping circuit-open notice", "branchId", branchID)
		return nil
	}

	subject := "Subject: SIP2 branch unreachable: " + branchID + "\r\n"
	mime := "MIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n"
	body := fmt.Sprintf(
		"Branch %q tripped its circuit breaker and will not be retried before %s.\n",
		branchID, retryAt.Format(time.RFC3339),
	)

	msg := []byte(subject + mime + body)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	if err := smtp.SendMail(s.host+":"+s.port, auth, s.from, []string{s.to}, msg); err != nil {
		slog.Error("failed to send circuit-open notice", "error", err, "branchId", branchID)
		return err
	}

	slog.Info("circuit-open notice sent", "branchId", branchID, "to", s.to)
	return nil
}
