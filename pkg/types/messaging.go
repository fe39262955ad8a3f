package types

import (
	"time"
)

// ConsumedMessage is a single message pulled from the work queue or the storage
// notification feed, decoupled from any particular broker client.
type ConsumedMessage struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// Attributes carries broker-level key/value metadata (e.g. the storage
	// notification's event type and object path).
	Attributes map[string]string
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Ack acknowledges successful processing; the broker will not redeliver.
	Ack func()
	// Nack signals failed processing so the broker's own retry policy can
	// redeliver the message and eventually dead-letter it.
	Nack func()
}

// ChunkMessage is one unit of consumer work: a size-bounded, order-preserving
// slice of a recipient list. It is immutable once enqueued and is delivered
// at-least-once under the queue's retry policy.
type ChunkMessage struct {
	// BatchName identifies the parent batch's tracking descriptor.
	BatchName string `json:"batchName"`
	// ChunkID is deterministic (`<batchName>-<index>`) so duplicate deliveries
	// of the same chunk can be recognised downstream.
	ChunkID string `json:"chunkId"`
	// TemplateKey names the template content object used to render each email.
	TemplateKey string `json:"templateKey"`
	// Recipients preserves the upload order of the chunk's rows.
	Recipients []RecipientRecord `json:"recipients"`
	// Attachments holds optional object-storage references attached to every
	// email rendered from this chunk.
	Attachments []string `json:"attachments,omitempty"`
}
