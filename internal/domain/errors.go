package domain

import "errors"

// Error taxonomy for the engine. Every failure surfaced by an operation
// wraps exactly one of these sentinels, so callers branch with errors.Is
// and transports map them to status codes in one place.
var (
	// ErrNotFound: unknown image id, or a version id that is no longer in
	// the history.
	ErrNotFound = errors.New("image not found")

	// ErrUnsupportedFormat: bytes whose sniffed format is outside the
	// supported set, or an encode target the active codec cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrDecode: recognized format but corrupt or truncated data. Never
	// retried; no version is appended.
	ErrDecode = errors.New("image decode failed")

	// ErrConcurrentModification: another mutation holds the image lock
	// (fail-fast mode) or the lock wait timed out. Safe to retry with
	// backoff.
	ErrConcurrentModification = errors.New("concurrent modification in progress")

	// ErrHistoryExhausted: undo requested while the base version is
	// current. Not an internal fault.
	ErrHistoryExhausted = errors.New("history exhausted")

	// ErrStorageIO: read/write failure at the metadata or blob layer.
	// Fatal for the current operation; atomic commit guarantees no partial
	// version becomes visible.
	ErrStorageIO = errors.New("storage i/o failure")
)
