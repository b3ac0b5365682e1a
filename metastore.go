package blobcache

import (
	"context"

	"github.com/google/uuid"
)

// MetadataStore is the authoritative FileRecord index the Engine depends on.
// Save/Delete/FindByHash must be consistent with each other at the point
// they return.
type MetadataStore interface {
	// Init creates the backing store if absent, or validates an existing one.
	// A corrupted store triggers a one-shot recovery rather than an error.
	Init(ctx context.Context) error

	// Save is an idempotent upsert of a full record.
	Save(ctx context.Context, record FileRecord) error

	// Get performs a single-id lookup. Returns ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (FileRecord, error)

	// Delete is an idempotent removal. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// FindByHash is the secondary index over content hash, used for
	// deduplication. Returns ErrNotFound if no record has that hash.
	FindByHash(ctx context.Context, hash string) (FileRecord, error)

	// Search filters and paginates, ordered by uploadedAt descending.
	Search(ctx context.Context, filter SearchFilter) (SearchResult, error)

	// AllIDs enumerates every record id, used by the Orphan Reaper to build
	// its reachable-filePath snapshot.
	AllIDs(ctx context.Context) ([]uuid.UUID, error)

	// Stats returns aggregate counters over all live records.
	Stats(ctx context.Context) (FileStats, error)

	// Healthy is a cheap liveness probe.
	Healthy(ctx context.Context) bool
}
