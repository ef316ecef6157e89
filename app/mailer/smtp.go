package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Sender     string
	SenderName string
}

// SMTP delivers messages through an authenticated relay over TLS.
type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg}
}

// Send renders msg and hands it to the relay. A message with only Bcc
// recipients is addressed To the sender.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg)
	if err != nil {
		return err
	}

	m := mail.NewMsg()
	if s.cfg.SenderName != "" {
		err = m.FromFormat(s.cfg.SenderName, s.cfg.Sender)
	} else {
		err = m.From(s.cfg.Sender)
	}
	if err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	to := msg.To
	if len(to) == 0 {
		to = []string{s.cfg.Sender}
	}
	if err := m.To(to...); err != nil {
		return fmt.Errorf("set recipients: %w", err)
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return fmt.Errorf("set bcc: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, body)
	if msg.Text != "" && msg.Template != "" {
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("deliver %q: %w", msg.Subject, err)
	}
	return nil
}
