package types

import (
	"fmt"
	"strings"
)

// Storage notification event types, as delivered in the "eventType" attribute
// of a GCS notification message.
const (
	StorageObjectFinalize = "OBJECT_FINALIZE"
	StorageObjectDelete   = "OBJECT_DELETE"
)

// StorageEvent is a parsed object-storage notification: which object changed,
// in which bucket, and whether it was created or removed.
type StorageEvent struct {
	Bucket    string
	Object    string
	EventType string
}

// ParseStorageEvent extracts a StorageEvent from a notification message's
// attributes.
func ParseStorageEvent(attrs map[string]string) (StorageEvent, error) {
	ev := StorageEvent{
		Bucket:    attrs["bucketId"],
		Object:    attrs["objectId"],
		EventType: attrs["eventType"],
	}
	if ev.Bucket == "" || ev.Object == "" {
		return StorageEvent{}, fmt.Errorf("storage notification missing bucketId/objectId attributes: %v", attrs)
	}
	if ev.EventType != StorageObjectFinalize && ev.EventType != StorageObjectDelete {
		return StorageEvent{}, fmt.Errorf("unsupported storage event type %q for object %s", ev.EventType, ev.Object)
	}
	return ev, nil
}

// Matches reports whether the event's object sits under the given prefix and
// carries one of the given suffixes. Suffix comparison is case-insensitive.
func (e StorageEvent) Matches(prefix string, suffixes ...string) bool {
	if !strings.HasPrefix(e.Object, prefix) {
		return false
	}
	lower := strings.ToLower(e.Object)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return len(suffixes) == 0
}
