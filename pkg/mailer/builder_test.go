package mailer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mailbatch/pkg/mailer"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

func testChunk() *types.ChunkMessage {
	return &types.ChunkMessage{
		BatchName:   "list-20240101T000000-abc123",
		ChunkID:     "list-20240101T000000-abc123-0",
		TemplateKey: "templates/welcome.html",
		Recipients: []types.RecipientRecord{
			{"email": "a@x.com", "name": "Ann", "order_id": "42"},
			{"email": "b@x.com", "name": "Bob", "order_id": "43", "subject": "Your order is on its way"},
			{"name": "no address"},
		},
	}
}

func TestBuildRecipientEmail(t *testing.T) {
	cfg := mailer.DefaultBuildConfig()
	cfg.DefaultSubject = "Order update"
	body := "Hello {{name}}, your order {{order_id}} shipped"

	t.Run("renders body with recipient fields", func(t *testing.T) {
		email, err := mailer.BuildRecipientEmail(cfg, testChunk(), 0, body, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.com"}, email.To)
		assert.Equal(t, "Order update", email.Subject)
		assert.Equal(t, "Hello Ann, your order 42 shipped", email.HTML)
		assert.Empty(t, email.Text, "html template keys produce html bodies")
	})

	t.Run("row subject override", func(t *testing.T) {
		email, err := mailer.BuildRecipientEmail(cfg, testChunk(), 1, body, nil)
		require.NoError(t, err)
		assert.Equal(t, "Your order is on its way", email.Subject)
	})

	t.Run("text template key produces text body", func(t *testing.T) {
		chunk := testChunk()
		chunk.TemplateKey = "templates/welcome.txt"
		email, err := mailer.BuildRecipientEmail(cfg, chunk, 0, body, nil)
		require.NoError(t, err)
		assert.Empty(t, email.HTML)
		assert.Equal(t, "Hello Ann, your order 42 shipped", email.Text)
	})

	t.Run("missing address is an error", func(t *testing.T) {
		_, err := mailer.BuildRecipientEmail(cfg, testChunk(), 2, body, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no email field")
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := mailer.BuildRecipientEmail(cfg, testChunk(), 3, body, nil)
		require.Error(t, err)
	})

	t.Run("attachments are carried through", func(t *testing.T) {
		attachments := []mailer.Attachment{{Filename: "terms.pdf", Content: []byte("pdf")}}
		email, err := mailer.BuildRecipientEmail(cfg, testChunk(), 0, body, attachments)
		require.NoError(t, err)
		require.Len(t, email.Attachments, 1)
		assert.Equal(t, "terms.pdf", email.Attachments[0].Filename)
	})
}

func TestRecipientIdempotencyKey(t *testing.T) {
	chunk := testChunk()
	cfg := mailer.DefaultBuildConfig()

	email1, err := mailer.BuildRecipientEmail(cfg, chunk, 0, "body", nil)
	require.NoError(t, err)
	email2, err := mailer.BuildRecipientEmail(cfg, chunk, 0, "body", nil)
	require.NoError(t, err)

	key := email1.Headers["Idempotency-Key"]
	assert.NotEmpty(t, key)
	assert.Equal(t, key, email2.Headers["Idempotency-Key"],
		"rebuilding the same recipient slot must reproduce the same key")

	// Same address in a different slot must key differently, duplicates in a
	// list are distinct recipients.
	assert.NotEqual(t,
		mailer.RecipientIdempotencyKey(chunk.ChunkID, 0, "a@x.com"),
		mailer.RecipientIdempotencyKey(chunk.ChunkID, 1, "a@x.com"))
	assert.NotEqual(t,
		mailer.RecipientIdempotencyKey("chunk-a", 0, "a@x.com"),
		mailer.RecipientIdempotencyKey("chunk-b", 0, "a@x.com"))
}
