// Package jsonfile provides the single-document MetadataStore: every
// FileRecord lives in one JSON document on disk, read fully and rewritten
// fully on every mutation via a temp-file-then-rename dance, serialized by
// an in-process mutex. This is the deliberately simple variant described
// for small, single-node deployments; Redis and the relational stores
// exist for anything bigger.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/blobcache"
)

type document struct {
	Records map[uuid.UUID]blobcache.FileRecord `json:"records"`
}

// Store is a blobcache.MetadataStore backed by a single JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New points a Store at path. Init must be called before use.
func New(path string) *Store {
	return &Store{path: path}
}

// Init creates an empty document if path is absent. A document that fails
// to parse is moved aside (".corrupt-<unix-nanos>") and replaced with a fresh
// empty one rather than surfaced as a startup error.
func (s *Store) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("init metadata store: %w", err)
	}

	_, err := s.readLocked()
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.quarantineLocked()
	}

	return s.writeLocked(document{Records: map[uuid.UUID]blobcache.FileRecord{}})
}

func (s *Store) quarantineLocked() {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "jsonfile: failed to quarantine corrupt document: %v\n", err)
	}
}

func (s *Store) readLocked() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return document{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	if doc.Records == nil {
		doc.Records = map[uuid.UUID]blobcache.FileRecord{}
	}
	return doc, nil
}

var errCorrupt = errors.New("corrupt document")

func (s *Store) writeLocked(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tmp := s.path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp document: %w", err)
	}
	return nil
}

// Save upserts record into the document.
func (s *Store) Save(ctx context.Context, record blobcache.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	doc.Records[record.ID] = record
	return s.writeLocked(doc)
}

// Get performs a single-id lookup.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (blobcache.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return blobcache.FileRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("get: %w", err)
	}

	record, ok := doc.Records[id]
	if !ok {
		return blobcache.FileRecord{}, blobcache.ErrNotFound
	}
	return record, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if _, ok := doc.Records[id]; !ok {
		return blobcache.ErrNotFound
	}

	delete(doc.Records, id)
	return s.writeLocked(doc)
}

// FindByHash performs a linear scan over the document for a matching hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (blobcache.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return blobcache.FileRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("find by hash: %w", err)
	}

	for _, record := range doc.Records {
		if record.Hash == hash {
			return record, nil
		}
	}
	return blobcache.FileRecord{}, blobcache.ErrNotFound
}

// Search filters and paginates in memory, ordered by UploadedAt descending.
func (s *Store) Search(ctx context.Context, filter blobcache.SearchFilter) (blobcache.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return blobcache.SearchResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return blobcache.SearchResult{}, fmt.Errorf("search: %w", err)
	}

	now := time.Now()
	matched := make([]blobcache.FileRecord, 0, len(doc.Records))
	for _, record := range doc.Records {
		if matches(record, filter, now) {
			matched = append(matched, record)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})

	total := len(matched)
	matched = paginate(matched, filter.Limit, filter.Offset)

	return blobcache.SearchResult{Records: matched, Total: total}, nil
}

func matches(r blobcache.FileRecord, f blobcache.SearchFilter, now time.Time) bool {
	if f.MimeType != "" && r.MimeType != f.MimeType {
		return false
	}
	if f.MinSize > 0 && r.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && r.Size > f.MaxSize {
		return false
	}
	if !f.UploadedAfter.IsZero() && r.UploadedAt.Before(f.UploadedAfter) {
		return false
	}
	if !f.UploadedBefore.IsZero() && r.UploadedAt.After(f.UploadedBefore) {
		return false
	}
	if f.ExpiredOnly && !r.Expired(now) {
		return false
	}
	return true
}

func paginate(records []blobcache.FileRecord, limit, offset int) []blobcache.FileRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []blobcache.FileRecord{}
	}
	records = records[offset:]

	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// AllIDs enumerates every record id.
func (s *Store) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(doc.Records))
	for id := range doc.Records {
		ids = append(ids, id)
	}
	return ids, nil
}

// Stats aggregates counters over the current document. Expired-but-unreaped
// records are excluded, matching Search's ExpiredOnly rule: an expired
// record is invisible to ordinary reads even before the reaper removes it.
func (s *Store) Stats(ctx context.Context) (blobcache.FileStats, error) {
	if err := ctx.Err(); err != nil {
		return blobcache.FileStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return blobcache.FileStats{}, fmt.Errorf("stats: %w", err)
	}

	now := time.Now()
	stats := blobcache.FileStats{
		FilesByMime: map[string]int{},
		FilesByDate: map[string]int{},
	}
	for _, record := range doc.Records {
		if record.Expired(now) {
			continue
		}
		stats.TotalFiles++
		stats.TotalSize += record.Size
		stats.FilesByMime[record.MimeType]++
		stats.FilesByDate[record.UploadedAt.UTC().Format("2006-01-02")]++
	}
	return stats, nil
}

// Healthy checks that the document directory is reachable.
func (s *Store) Healthy(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err == nil
}
