package blobcache

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// FileRecord is the authoritative per-file entity. It is created atomically
// after a successful byte write, never mutated in place, and destroyed by
// the Expiry Reaper or an explicit delete.
type FileRecord struct {
	ID           uuid.UUID      `json:"id"`
	OriginalName string         `json:"original_name"`
	StoredName   string         `json:"stored_name"`
	MimeType     string         `json:"mime_type"`
	Size         int64          `json:"size"`
	Hash         string         `json:"hash"`
	UploadedAt   time.Time      `json:"uploaded_at"`
	TTL          int            `json:"ttl"`
	ExpiresAt    time.Time      `json:"expires_at"`
	FilePath     string         `json:"file_path"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the record's TTL has elapsed as of now.
func (r FileRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// SaveFileParams carries the inputs to Engine.SaveFile.
type SaveFileParams struct {
	Stream       io.Reader
	OriginalName string
	DeclaredMime string
	TTL          int
	Metadata     map[string]any
	// AllowDuplicate is advisory only and not consulted by the Engine.
	// Dedup is governed solely by StorageConfig.EnableDeduplication.
	AllowDuplicate bool
}

// SearchFilter constrains Search/SearchFiles results. UploadedBefore is also
// how the Expiry Reaper's on-demand "olderThan" mode is expressed.
type SearchFilter struct {
	MimeType       string
	MinSize        int64
	MaxSize        int64
	UploadedAfter  time.Time
	UploadedBefore time.Time
	ExpiredOnly    bool
	Limit          int
	Offset         int
}

// SearchResult is the paginated response to a Search/SearchFiles call.
type SearchResult struct {
	Records []FileRecord `json:"records"`
	Total   int          `json:"total"`
}

// FileStats aggregates counters over all live records.
type FileStats struct {
	TotalFiles  int            `json:"total_files"`
	TotalSize   int64          `json:"total_size"`
	FilesByMime map[string]int `json:"files_by_mime"`
	FilesByDate map[string]int `json:"files_by_date"`
}

// StorageHealth aggregates liveness of the two pluggable backends.
type StorageHealth struct {
	Backend  bool `json:"backend"`
	Metadata bool `json:"metadata"`
	Healthy  bool `json:"healthy"`
}

// StorageConfig is process-wide and immutable after Engine construction.
type StorageConfig struct {
	BasePath            string
	MaxFileSize         int64
	MaxTTL              int      // seconds
	AllowedMimeTypes    []string // empty = permit all
	EnableDeduplication bool
}

// MinTTLSeconds is the lower admission bound on a requested TTL.
const MinTTLSeconds = 60

// DefaultMaxTTLSeconds matches MAX_TTL_MIN's default of 10080 minutes.
const DefaultMaxTTLSeconds = 10_080 * 60

// sniffWindow is the amount of the stream start buffered for MIME sniffing.
const sniffWindow = 16 * 1024
