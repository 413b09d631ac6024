package services

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"brokercrm/internal/config"
)

// EmailNotifier mails transition notices to a fixed list of recipients.
type EmailNotifier struct {
	from string
	to   []string
	send func(m ...*gomail.Message) error
}

func NewEmailNotifier(cfg config.EmailConfig) (*EmailNotifier, error) {
	if cfg.SMTPHost == "" || cfg.FromEmail == "" || len(cfg.To) == 0 {
		return nil, errors.New("email: smtp_host, from_email and to are required")
	}
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	return &EmailNotifier{
		from: cfg.FromEmail,
		to:   cfg.To,
		send: dialer.DialAndSend,
	}, nil
}

func (s *EmailNotifier) Name() string { return "email" }

func (s *EmailNotifier) NotifyTransition(ctx context.Context, ev TransitionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to...)
	m.SetHeader("Subject", transitionSubject(ev))
	m.SetBody("text/html", "<p>"+htmlLines(transitionHTML(ev))+"</p>")

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send transition email: %w", err)
	}
	return nil
}
