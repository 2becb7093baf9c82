package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

var ErrNoRecipient = errors.New("notify: missing recipient")

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPSender sends HTML email through an SMTP relay.
type SMTPSender struct {
	from string
	send func(*gomail.Message) error
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("notify: smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: smtp from address is required")
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return &SMTPSender{from: cfg.From, send: func(m *gomail.Message) error { return dialer.DialAndSend(m) }}, nil
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.send(m); err != nil {
		return fmt.Errorf("notify: smtp send: %w", err)
	}
	return nil
}
