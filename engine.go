package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Engine is the storage orchestrator: admission, the streaming upload
// pipeline, deduplication, the two-phase object-then-metadata commit, and
// read/delete dispatch. It holds two interface values and never
// type-switches on them.
type Engine struct {
	backend  ObjectBackend
	metadata MetadataStore
	config   StorageConfig

	cleanupTimeout time.Duration
}

// NewEngine validates cfg and wires an Engine around the given backends.
func NewEngine(backend ObjectBackend, metadata MetadataStore, cfg StorageConfig) (*Engine, error) {
	if backend == nil || metadata == nil {
		return nil, fmt.Errorf("new engine: %w: backend and metadata store are required", ErrValidation)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("new engine: %w: max file size must be positive", ErrValidation)
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTLSeconds
	}

	return &Engine{
		backend:        backend,
		metadata:       metadata,
		config:         cfg,
		cleanupTimeout: 30 * time.Second,
	}, nil
}

// Backend exposes the underlying ObjectBackend for callers that need to
// operate below the Engine's record-oriented API, such as the Orphan Reaper.
func (e *Engine) Backend() ObjectBackend { return e.backend }

// Metadata exposes the underlying MetadataStore for the same reason.
func (e *Engine) Metadata() MetadataStore { return e.metadata }

// admissionReader tees a single input stream into a running hasher and a
// byte counter, aborting with ErrSizeExceeded the moment the counter passes
// maxSize. It also retains the first sniffWindow bytes for MIME sniffing.
// It is a synchronous fan-out: the next read on the input only proceeds
// once the caller (the backend Put sink) has drained the previous chunk,
// which is what gives the pipeline its backpressure.
type admissionReader struct {
	ctx      context.Context
	src      io.Reader
	hasher   hash.Hash
	count    int64
	maxSize  int64
	sniffBuf []byte
}

func (r *admissionReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := r.src.Read(p)
	if n > 0 {
		r.hasher.Write(p[:n])
		r.count += int64(n)

		if len(r.sniffBuf) < sniffWindow {
			take := min(sniffWindow-len(r.sniffBuf), n)
			r.sniffBuf = append(r.sniffBuf, p[:take]...)
		}

		if r.maxSize > 0 && r.count > r.maxSize {
			return n, ErrSizeExceeded
		}
	}
	return n, err
}

func (r *admissionReader) sum() string {
	return hex.EncodeToString(r.hasher.Sum(nil))
}

// SaveFile runs the admission, streaming, dedup, and two-phase commit
// pipeline for a new upload.
func (e *Engine) SaveFile(ctx context.Context, params SaveFileParams) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, fmt.Errorf("save file: %w", err)
	}

	// 1. Admission.
	if params.TTL < MinTTLSeconds || params.TTL > e.config.MaxTTL {
		return FileRecord{}, fmt.Errorf("save file: %w: ttl must be between %ds and %ds", ErrValidation, MinTTLSeconds, e.config.MaxTTL)
	}
	if params.Stream == nil {
		return FileRecord{}, fmt.Errorf("save file: %w: stream is required", ErrValidation)
	}

	id := uuid.New()
	originalName := params.OriginalName
	if originalName == "" {
		originalName = "file"
	}

	// 2. Tentative key allocation, id-only: the pretty name lives in
	// FileRecord.StoredName, never in the backend key, so no rename is
	// needed once the hash is known.
	key := JoinKey(DatePrefix(time.Now()), id.String())

	// 3. Streaming consume: tee into hasher + counter + the backend sink.
	tee := &admissionReader{
		ctx:     ctx,
		src:     params.Stream,
		hasher:  sha256.New(),
		maxSize: e.config.MaxFileSize,
	}

	putResult, putErr := e.backend.Put(ctx, key, tee)
	if putErr != nil {
		e.teardown(key)
		if errors.Is(putErr, ErrSizeExceeded) {
			return FileRecord{}, fmt.Errorf("save file %s: %w", originalName, ErrSizeExceeded)
		}
		return FileRecord{}, fmt.Errorf("save file %s: %w: %w", originalName, ErrBackendWriteFailed, putErr)
	}

	if tee.count == 0 {
		e.teardown(key)
		return FileRecord{}, fmt.Errorf("save file %s: %w: empty input", originalName, ErrValidation)
	}

	// 4. MIME determination.
	finalMime := resolveMime(tee.sniffBuf, params.DeclaredMime)
	if !mimeAllowed(finalMime, e.config.AllowedMimeTypes) {
		e.teardown(key)
		return FileRecord{}, fmt.Errorf("save file %s: %w: %s", originalName, ErrMimeNotAllowed, finalMime)
	}

	// 5. Stream-end: finalize the digest.
	contentHash := tee.sum()

	// 6. Deduplication.
	if e.config.EnableDeduplication {
		if existing, err := e.metadata.FindByHash(ctx, contentHash); err == nil {
			e.teardown(key)
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			slog.Warn("dedup lookup failed, proceeding as fresh upload", "hash", contentHash, "err", err)
		}
	}

	// 7. Record commit.
	now := time.Now().UTC()
	record := FileRecord{
		ID:           id,
		OriginalName: originalName,
		StoredName:   SafeStoredName(originalName, contentHash),
		MimeType:     finalMime,
		Size:         putResult.Size,
		Hash:         contentHash,
		UploadedAt:   now,
		TTL:          params.TTL,
		ExpiresAt:    now.Add(time.Duration(params.TTL) * time.Second),
		FilePath:     key,
		Metadata:     params.Metadata,
	}

	if err := e.metadata.Save(ctx, record); err != nil {
		e.teardown(key)
		return FileRecord{}, fmt.Errorf("save file %s: %w: %w", originalName, ErrMetadataWriteFailed, err)
	}

	return record, nil
}

// teardown deletes a backend object on a pipeline abort path, using a
// background context so cleanup still completes if the caller's context was
// what triggered the abort.
func (e *Engine) teardown(key string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), e.cleanupTimeout)
	defer cancel()

	if err := e.backend.Delete(cleanupCtx, key); err != nil {
		slog.Warn("failed to tear down aborted upload", "key", key, "err", err)
	}
}

func resolveMime(sniffed []byte, declared string) string {
	if len(sniffed) > 0 {
		// mimetype answers application/octet-stream when no signature
		// matches; only a more specific type overrides the declared one.
		if detected := mimetype.Detect(sniffed); detected != nil {
			base, _, _ := strings.Cut(detected.String(), ";")
			if base = strings.TrimSpace(base); base != "" && base != "application/octet-stream" {
				return base
			}
		}
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func mimeAllowed(mime string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if m == mime {
			return true
		}
	}
	return false
}

// loadLive loads a record and applies the expiry rule shared by
// GetFileInfo, ReadFile, and OpenReadStream: an expired record is
// reported as ErrExpired, never returned to a caller.
func (e *Engine) loadLive(ctx context.Context, id uuid.UUID) (FileRecord, error) {
	record, err := e.metadata.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return FileRecord{}, fmt.Errorf("%w", ErrNotFound)
		}
		return FileRecord{}, fmt.Errorf("%w: %w", ErrMetadataReadFailed, err)
	}

	if record.Expired(time.Now()) {
		return FileRecord{}, fmt.Errorf("%w", ErrExpired)
	}

	return record, nil
}

// GetFileInfo loads a file's record by id.
func (e *Engine) GetFileInfo(ctx context.Context, id uuid.UUID) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, fmt.Errorf("get file info: %w", err)
	}

	record, err := e.loadLive(ctx, id)
	if err != nil {
		return FileRecord{}, fmt.Errorf("get file info %s: %w", id, err)
	}
	return record, nil
}

// ReadFile loads the full content of a file into memory.
func (e *Engine) ReadFile(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	record, err := e.loadLive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", id, err)
	}

	content, err := e.backend.Get(ctx, record.FilePath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("read file %s: %w", id, ErrBackendMissing)
		}
		return nil, fmt.Errorf("read file %s: %w: %w", id, ErrBackendReadFailed, err)
	}
	return content, nil
}

// OpenReadStream opens a lazy stream over a file's content. The caller must
// close it.
func (e *Engine) OpenReadStream(ctx context.Context, id uuid.UUID) (FileRecord, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, nil, fmt.Errorf("open read stream: %w", err)
	}

	record, err := e.loadLive(ctx, id)
	if err != nil {
		return FileRecord{}, nil, fmt.Errorf("open read stream %s: %w", id, err)
	}

	stream, err := e.backend.OpenRead(ctx, record.FilePath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return FileRecord{}, nil, fmt.Errorf("open read stream %s: %w", id, ErrBackendMissing)
		}
		return FileRecord{}, nil, fmt.Errorf("open read stream %s: %w: %w", id, ErrBackendReadFailed, err)
	}

	return record, stream, nil
}

// DeleteFile removes a file's object and record. Best-effort
// delete of the object (absent is not an error); the record is only
// removed once the object delete has either succeeded or confirmed absence.
func (e *Engine) DeleteFile(ctx context.Context, id uuid.UUID) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, fmt.Errorf("delete file: %w", err)
	}

	record, err := e.metadata.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return FileRecord{}, fmt.Errorf("delete file %s: %w", id, ErrNotFound)
		}
		return FileRecord{}, fmt.Errorf("delete file %s: %w: %w", id, ErrMetadataReadFailed, err)
	}

	if delErr := e.backend.Delete(ctx, record.FilePath); delErr != nil && !errors.Is(delErr, ErrNotFound) {
		return FileRecord{}, fmt.Errorf("delete file %s: %w: %w", id, ErrBackendWriteFailed, delErr)
	}

	if err := e.metadata.Delete(ctx, id); err != nil {
		return FileRecord{}, fmt.Errorf("delete file %s: %w: %w", id, ErrMetadataWriteFailed, err)
	}

	return record, nil
}

// SearchFiles is a pure delegation to the Metadata Store.
func (e *Engine) SearchFiles(ctx context.Context, filter SearchFilter) (SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return SearchResult{}, fmt.Errorf("search files: %w", err)
	}

	result, err := e.metadata.Search(ctx, filter)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search files: %w: %w", ErrMetadataReadFailed, err)
	}
	return result, nil
}

// GetStats returns aggregate counters over all live records.
func (e *Engine) GetStats(ctx context.Context) (FileStats, error) {
	stats, err := e.metadata.Stats(ctx)
	if err != nil {
		return FileStats{}, fmt.Errorf("get stats: %w: %w", ErrMetadataReadFailed, err)
	}
	return stats, nil
}

// GetHealth aggregates liveness of both pluggable backends.
func (e *Engine) GetHealth(ctx context.Context) StorageHealth {
	backendOK := e.backend.Healthy(ctx)
	metadataOK := e.metadata.Healthy(ctx)
	return StorageHealth{
		Backend:  backendOK,
		Metadata: metadataOK,
		Healthy:  backendOK && metadataOK,
	}
}
