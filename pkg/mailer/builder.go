package mailer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-mailbatch/pkg/templates"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// BuildConfig names the row fields and defaults used to assemble a
// recipient's message.
type BuildConfig struct {
	// AddressField is the row field carrying the delivery address.
	AddressField string
	// SubjectField is the optional row field overriding the subject.
	SubjectField string
	// DefaultSubject is used when the row carries no subject override.
	DefaultSubject string
	// From overrides the sender identity; empty defers to the sender's
	// configured identity.
	From string
}

// DefaultBuildConfig matches the upload layout's conventional field names.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		AddressField: "email",
		SubjectField: "subject",
	}
}

// BuildRecipientEmail renders the template body with one recipient's fields
// and assembles the complete message. The body lands as HTML or plain text
// depending on the template key's suffix. Every message carries a
// deterministic idempotency key so a redelivered chunk re-sends with the same
// key, letting the transmission service deduplicate where it supports that.
func BuildRecipientEmail(cfg BuildConfig, chunk *types.ChunkMessage, index int, body string, attachments []Attachment) (*Email, error) {
	if index < 0 || index >= len(chunk.Recipients) {
		return nil, fmt.Errorf("recipient index %d out of range for chunk %s", index, chunk.ChunkID)
	}
	record := chunk.Recipients[index]

	address := record.Get(cfg.AddressField)
	if address == "" {
		return nil, fmt.Errorf("recipient %d in chunk %s has no %s field", index, chunk.ChunkID, cfg.AddressField)
	}

	subject := record.Get(cfg.SubjectField)
	if subject == "" {
		subject = cfg.DefaultSubject
	}

	rendered := templates.Render(body, record)

	email := &Email{
		From:    cfg.From,
		To:      []string{address},
		Subject: subject,
		Headers: map[string]string{
			"Idempotency-Key": RecipientIdempotencyKey(chunk.ChunkID, index, address),
		},
		Attachments: attachments,
	}
	if strings.HasSuffix(strings.ToLower(chunk.TemplateKey), ".html") {
		email.HTML = rendered
	} else {
		email.Text = rendered
	}
	return email, nil
}

// RecipientIdempotencyKey derives a stable key for one recipient slot of one
// chunk. Duplicate addresses in a list are distinct recipients, so the slot
// index participates in the key; a redelivery of the same chunk reproduces
// the same keys.
func RecipientIdempotencyKey(chunkID string, index int, address string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d#%s", chunkID, index, address)))
	return hex.EncodeToString(sum[:])
}
