// Package notify is the best-effort notification sink. Delivery failures are
// logged by callers and never propagated as caller errors.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"carousel.org/internal/obs"
)

// Notifier delivers a message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// SMTPNotifier sends plain-text mail through a single SMTP relay.
type SMTPNotifier struct {
	Addr string
	From string
}

// NewSMTPNotifier configures delivery via the relay at addr (host:port).
func NewSMTPNotifier(addr, from string) (*SMTPNotifier, error) {
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("notify: smtp address and sender are required")
	}
	return &SMTPNotifier{Addr: addr, From: from}, nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", n.From, recipient, subject, body)
	return smtp.SendMail(n.Addr, nil, n.From, []string{recipient}, []byte(msg))
}

// LogNotifier is the fallback used when no relay is configured: it records
// the notification instead of delivering it.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipient, subject, _ string) error {
	obs.LogJSON(map[string]any{
		"level":     "info",
		"msg":       "notification_skipped",
		"recipient": recipient,
		"subject":   subject,
	})
	return nil
}
