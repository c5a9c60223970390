package utils

import (
	"context"
	"errors"

	"gopkg.in/gomail.v2"
)

type MailerConfig struct {
	Host     string   `env:"SMTP_HOST"`
	Port     int      `env:"SMTP_PORT" envDefault:"587"`
	Username string   `env:"SMTP_USERNAME"`
	Password string   `env:"SMTP_PASSWORD"`
	From     string   `env:"SMTP_FROM"`
	To       []string `env:"SUPPORT_ALERT_EMAILS" envSeparator:","`
}

func (c MailerConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

// Mailer sends operator alerts to a fixed list of inboxes.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     []string
}

func NewMailer(cfg MailerConfig) *Mailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
		to:     cfg.To,
	}
}

func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.to) == 0 {
		return errors.New("mailer: no recipients")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}
