package types

import "time"

// TemplateMetadata is the metadata-store record for one template: the variable
// names its content requires plus a version marker. It is written only by the
// indexer and read by producer and consumer through the caching layer.
type TemplateMetadata struct {
	// Key is the template's object path under the templates prefix.
	Key string `firestore:"key"`
	// RequiredVariables holds the distinct placeholder names extracted from
	// the template content, sorted for deterministic comparison.
	RequiredVariables []string `firestore:"requiredVariables"`
	// Version starts at 1 and increments on every content change. A
	// byte-identical re-upload leaves it untouched.
	Version int64 `firestore:"version"`
	// ContentHash fingerprints the indexed content so no-op re-uploads can be
	// detected without refetching the body.
	ContentHash string `firestore:"contentHash"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}
