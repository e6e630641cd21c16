package domain

import "time"

// MutationEvent is the audit record published after a committed mutation,
// undo, restore or delete. Consumed by the webhook notifier; BytesBefore
// and BytesAfter let downstream caches decide whether a purge is worth it.
type MutationEvent struct {
	ImageID     string    `json:"image_id"`
	VersionID   int64     `json:"version_id"`
	Operation   Operation `json:"operation"`
	Format      Format    `json:"format"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	BytesBefore int64     `json:"bytes_before"`
	BytesAfter  int64     `json:"bytes_after"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	EventImageMutated = "image.mutated"
	EventImageDeleted = "image.deleted"
)
