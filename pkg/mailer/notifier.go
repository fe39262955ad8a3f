package mailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/templates"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// Fallback operator templates, used when no report template is configured or
// the configured one cannot be fetched. Operators always receive a rendered
// report, never raw error text.
const (
	fallbackFailureHTML = `<html><body>
<h2>Batch Email Service - Failure Report</h2>
<p><b>Target:</b> {{target}}</p>
<p><b>Detail:</b> {{detail}}</p>
<p>{{error_count}} of {{total_count}} rows failed ({{error_rate}}% failure rate, {{success_rate}}% success rate).</p>
</body></html>`
	fallbackFailureText = `Batch Email Service - Failure Report

Target: {{target}}
Detail: {{detail}}
{{error_count}} of {{total_count}} rows failed ({{error_rate}}% failure rate, {{success_rate}}% success rate).
`
)

// AdminNotifierConfig holds configuration for operator notifications.
type AdminNotifierConfig struct {
	// AdminEmail receives failure reports.
	AdminEmail string
	// SenderEmail overrides the transmission service's default identity for
	// report mail; optional.
	SenderEmail string
	// FailureHTMLTemplateKey / FailureTextTemplateKey locate the operator
	// report templates in object storage; empty keys fall back to built-in
	// templates.
	FailureHTMLTemplateKey string
	FailureTextTemplateKey string
}

// LoadAdminNotifierConfigFromEnv loads notifier configuration from
// environment variables.
func LoadAdminNotifierConfigFromEnv() (*AdminNotifierConfig, error) {
	cfg := &AdminNotifierConfig{
		AdminEmail:             os.Getenv("ADMIN_EMAIL"),
		SenderEmail:            os.Getenv("ADMIN_NOTIFICATION_SENDER"),
		FailureHTMLTemplateKey: os.Getenv("FAILURE_HTML_TEMPLATE_KEY"),
		FailureTextTemplateKey: os.Getenv("FAILURE_TEXT_TEMPLATE_KEY"),
	}
	if cfg.AdminEmail == "" {
		return nil, errors.New("ADMIN_EMAIL environment variable not set")
	}
	return cfg, nil
}

// FailureReport carries the facts of a batch or indexing failure for the
// operator notification.
type FailureReport struct {
	// Subject of the notification email.
	Subject string
	// Target is the object path or template key the failure concerns.
	Target string
	// Detail is a short description of what went wrong.
	Detail string
	// Header and RowErrors describe excluded rows, when the failure involves
	// row validation; they become a CSV attachment.
	Header    []string
	RowErrors []types.RowError
	// SucceededCount/FailedCount feed the aggregate rate substitutions.
	SucceededCount int
	FailedCount    int
}

// AdminNotifier sends rendered failure reports to the configured operator
// address, using the same substitution mechanism as recipient email.
type AdminNotifier struct {
	config  AdminNotifierConfig
	sender  Sender
	content templates.ContentFetcher // may be nil; falls back to built-ins
	logger  zerolog.Logger
}

// NewAdminNotifier creates a notifier. content may be nil to always use the
// built-in report templates.
func NewAdminNotifier(cfg *AdminNotifierConfig, sender Sender, content templates.ContentFetcher, logger zerolog.Logger) (*AdminNotifier, error) {
	if sender == nil {
		return nil, errors.New("mail sender cannot be nil")
	}
	if cfg == nil || cfg.AdminEmail == "" {
		return nil, errors.New("admin email is required")
	}
	return &AdminNotifier{
		config:  *cfg,
		sender:  sender,
		content: content,
		logger:  logger.With().Str("component", "AdminNotifier").Logger(),
	}, nil
}

// NotifyBatchFailure sends a rendered report for a failed or partially failed
// batch, attaching the excluded rows as CSV when present.
func (n *AdminNotifier) NotifyBatchFailure(ctx context.Context, report FailureReport) error {
	total := report.SucceededCount + report.FailedCount
	errorRate, successRate := 0, 0
	if total > 0 {
		errorRate = int(float64(report.FailedCount)/float64(total)*100 + 0.5)
		successRate = int(float64(report.SucceededCount)/float64(total)*100 + 0.5)
	}

	replacements := map[string]string{
		"target":        report.Target,
		"detail":        report.Detail,
		"error_count":   strconv.Itoa(report.FailedCount),
		"success_count": strconv.Itoa(report.SucceededCount),
		"total_count":   strconv.Itoa(total),
		"error_rate":    strconv.Itoa(errorRate),
		"success_rate":  strconv.Itoa(successRate),
	}

	htmlBody := templates.Render(n.fetchTemplate(ctx, n.config.FailureHTMLTemplateKey, fallbackFailureHTML), replacements)
	textBody := templates.Render(n.fetchTemplate(ctx, n.config.FailureTextTemplateKey, fallbackFailureText), replacements)

	subject := report.Subject
	if subject == "" {
		subject = "Batch Email Service - Failure Report"
	}

	email := &Email{
		From:    n.config.SenderEmail,
		To:      []string{n.config.AdminEmail},
		Subject: subject,
		HTML:    htmlBody,
		Text:    textBody,
	}

	if len(report.RowErrors) > 0 {
		csvData, err := RowErrorsCSV(report.Header, report.RowErrors)
		if err != nil {
			n.logger.Error().Err(err).Str("target", report.Target).Msg("Failed to generate failed-rows CSV, sending report without it")
		} else {
			email.Attachments = append(email.Attachments, Attachment{
				Filename:    "failed-rows.csv",
				ContentType: "text/csv",
				Content:     csvData,
			})
		}
	}

	if err := n.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("send admin failure report for %s: %w", report.Target, err)
	}
	n.logger.Info().Str("target", report.Target).Int("row_errors", len(report.RowErrors)).Msg("Admin failure report sent")
	return nil
}

// NotifyIndexFailure reports a failed template indexing event. It satisfies
// the indexer's notifier contract.
func (n *AdminNotifier) NotifyIndexFailure(ctx context.Context, templateKey string, cause error) error {
	return n.NotifyBatchFailure(ctx, FailureReport{
		Subject: "Batch Email Service - Template Indexing Failed",
		Target:  templateKey,
		Detail:  cause.Error(),
	})
}

func (n *AdminNotifier) fetchTemplate(ctx context.Context, key, fallback string) string {
	if key == "" || n.content == nil {
		return fallback
	}
	body, err := n.content.Get(ctx, key)
	if err != nil {
		n.logger.Warn().Err(err).Str("template_key", key).Msg("Could not fetch operator report template, using built-in")
		return fallback
	}
	return body
}
