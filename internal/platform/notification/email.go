package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/mentalspace/ehr/internal/platform/retry"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends plain-text email through an SMTP relay.
type SMTPSender struct {
	from   string
	domain string
	dialer dialer
	policy retry.Policy
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		from:   cfg.From,
		domain: senderDomain(cfg.From),
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		policy: retry.DefaultPolicy,
	}
}

// SendEmail sets a Message-ID so delivery receipts can be matched back to
// the reminder, and returns it.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", msgID)
	m.SetBody("text/plain", body)

	err := retry.Do(ctx, s.policy, func() error {
		// Dial failures and 4xx SMTP replies are worth another attempt.
		if err := s.dialer.DialAndSend(m); err != nil {
			return retry.Transient(fmt.Errorf("smtp send: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return msgID, nil
}

func senderDomain(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return "localhost"
}
