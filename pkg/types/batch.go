package types

import "time"

// BatchStatus is the lifecycle state of a batch descriptor.
type BatchStatus string

const (
	// BatchPending is set by the producer at enqueue time, before any chunk
	// has reported.
	BatchPending BatchStatus = "PENDING"
	// BatchPartial means at least one chunk has reported but the batch is not
	// yet terminal, or the terminal outcome mixes successes and failures.
	BatchPartial BatchStatus = "PARTIAL"
	// BatchComplete means every recipient succeeded.
	BatchComplete BatchStatus = "COMPLETE"
	// BatchFailed means every recipient failed.
	BatchFailed BatchStatus = "FAILED"
)

// BatchDescriptor is the tracking-store record for one batch. TotalRecipients
// is fixed at creation; counters only ever increase and are mutated solely
// through the tracker's transactional chunk-result path.
type BatchDescriptor struct {
	BatchName       string      `firestore:"batchName"`
	TemplateKey     string      `firestore:"templateKey"`
	TotalRecipients int64       `firestore:"totalRecipients"`
	SucceededCount  int64       `firestore:"succeededCount"`
	FailedCount     int64       `firestore:"failedCount"`
	Status          BatchStatus `firestore:"status"`
	// ReportedChunks records chunk IDs already applied, making counter updates
	// idempotent under at-least-once chunk redelivery.
	ReportedChunks []string  `firestore:"reportedChunks"`
	CreatedAt      time.Time `firestore:"createdAt"`
	// ExpirationTime drives store-level TTL cleanup of finished descriptors.
	ExpirationTime time.Time `firestore:"expirationTime"`
}

// DeriveStatus computes the descriptor status for the given counter values.
// Terminal states require every recipient to be accounted for.
func DeriveStatus(total, succeeded, failed int64) BatchStatus {
	switch {
	case succeeded == 0 && failed == 0:
		return BatchPending
	case succeeded == total:
		return BatchComplete
	case failed == total:
		return BatchFailed
	default:
		return BatchPartial
	}
}

// ChunkResult is one consumer invocation's tally for a single chunk.
type ChunkResult struct {
	BatchName string
	ChunkID   string
	Succeeded int64
	Failed    int64
}
