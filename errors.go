package blobcache

import "errors"

// Sentinel errors returned at the engine edge. Callers should use errors.Is,
// never string matching, since all engine errors are wrapped with context.
var (
	// ErrValidation is returned when caller input violates a documented constraint.
	ErrValidation = errors.New("validation")
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when a record exists but its TTL has elapsed.
	// It is reported to external callers as ErrNotFound.
	ErrExpired = errors.New("expired")
	// ErrSizeExceeded is returned when an upload exceeds the configured maxFileSize.
	ErrSizeExceeded = errors.New("size exceeded")
	// ErrMimeNotAllowed is returned when the resolved content type is rejected by policy.
	ErrMimeNotAllowed = errors.New("mime type not allowed")
	// ErrBackendWriteFailed is returned when the object backend fails to persist a stream.
	ErrBackendWriteFailed = errors.New("backend write failed")
	// ErrBackendReadFailed is returned when the object backend fails to read a stream.
	ErrBackendReadFailed = errors.New("backend read failed")
	// ErrBackendMissing is returned when a record's backend object cannot be found.
	ErrBackendMissing = errors.New("backend object missing")
	// ErrMetadataWriteFailed is returned when the metadata store fails to persist a record.
	ErrMetadataWriteFailed = errors.New("metadata write failed")
	// ErrMetadataReadFailed is returned when the metadata store fails to read a record.
	ErrMetadataReadFailed = errors.New("metadata read failed")
	// ErrInternal is returned for uncategorized failures.
	ErrInternal = errors.New("internal error")
	// ErrUnauthorized signals a failed authorization. The HTTP auth layer
	// returns its own httpapi.ErrUnauthorized and does not use this value.
	ErrUnauthorized = errors.New("unauthorized")
)
