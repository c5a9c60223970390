package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type SMSConfig struct {
	AccountSID string   `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string   `env:"TWILIO_AUTH_TOKEN"`
	From       string   `env:"TWILIO_FROM"`
	To         []string `env:"SUPPORT_ALERT_PHONES" envSeparator:","`
}

func (c SMSConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && len(c.To) > 0
}

type SMSSender struct {
	client *twilio.RestClient
	from   string
	to     []string
}

func NewSMSSender(cfg SMSConfig) *SMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{client: client, from: cfg.From, to: cfg.To}
}

// Send texts body to every configured phone; one failing number does not
// stop the others.
func (s *SMSSender) Send(ctx context.Context, body string) error {
	var errs []error
	for _, to := range s.to {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(s.from)
		params.SetBody(body)
		if _, err := s.client.Api.CreateMessage(params); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}
