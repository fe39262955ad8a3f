package mailer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/resend/resend-go/v3"
	"github.com/rs/zerolog"
)

// Sender is the mail transmission interface: it accepts a fully-built message
// and returns success or a transport-level error. Per-recipient retry policy
// lives with the caller, not here.
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// ResendConfig holds configuration for the Resend transmission service.
type ResendConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
}

// LoadResendConfigFromEnv loads Resend configuration from environment
// variables.
func LoadResendConfigFromEnv() (*ResendConfig, error) {
	cfg := &ResendConfig{
		APIKey:      os.Getenv("RESEND_API_KEY"),
		SenderEmail: os.Getenv("RESEND_FROM_EMAIL"),
		SenderName:  os.Getenv("RESEND_FROM_NAME"),
	}
	if cfg.APIKey == "" {
		return nil, errors.New("RESEND_API_KEY environment variable not set")
	}
	if cfg.SenderEmail == "" {
		return nil, errors.New("RESEND_FROM_EMAIL environment variable not set")
	}
	return cfg, nil
}

// ResendSender implements Sender using the Resend API.
type ResendSender struct {
	client *resend.Client
	config ResendConfig
	logger zerolog.Logger
}

// NewResendSender creates a sender over the Resend API.
func NewResendSender(cfg *ResendConfig, logger zerolog.Logger) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(cfg.APIKey),
		config: *cfg,
		logger: logger.With().Str("component", "ResendSender").Logger(),
	}
}

// Send transmits one email. An empty From falls back to the configured
// sender identity.
func (s *ResendSender) Send(ctx context.Context, email *Email) error {
	from := email.From
	if from == "" {
		if s.config.SenderName != "" {
			from = fmt.Sprintf("%s <%s>", s.config.SenderName, s.config.SenderEmail)
		} else {
			from = s.config.SenderEmail
		}
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Headers: email.Headers,
	}
	for _, a := range email.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}

	sent, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	s.logger.Debug().Str("resend_id", sent.Id).Strs("to", email.To).Msg("Email accepted by transmission service")
	return nil
}
