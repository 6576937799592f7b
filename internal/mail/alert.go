// Package mail sends operator alert emails.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

// Alerter delivers an operator alert.
type Alerter interface {
	SendAlert(ctx context.Context, subject, body string) error
}

// SenderConfig holds the SMTP submission settings.
type SenderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Sender sends alerts over SMTP. Alerts are throttled so a message
// storm cannot flood the operator inbox; throttled alerts are logged
// and dropped.
type Sender struct {
	client  *gomail.Client
	from    string
	to      string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSender builds an SMTP alert sender. At most one alert per minute
// is delivered, with a small burst allowance.
func NewSender(cfg SenderConfig, log *slog.Logger) (*Sender, error) {
	client, err := gomail.NewClient(cfg.Host,
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp client: %w", err)
	}
	return &Sender{
		client:  client,
		from:    cfg.From,
		to:      cfg.To,
		limiter: rate.NewLimiter(rate.Every(time.Minute), 5),
		log:     log,
	}, nil
}

// SendAlert implements Alerter.
func (s *Sender) SendAlert(ctx context.Context, subject, body string) error {
	if !s.limiter.Allow() {
		s.log.Warn("alert throttled", "subject", subject)
		return nil
	}

	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("mail: from address: %w", err)
	}
	if err := msg.To(s.to); err != nil {
		return fmt.Errorf("mail: to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send alert: %w", err)
	}
	s.log.Info("alert sent", "subject", subject, "to", s.to)
	return nil
}
