// Package kv provides the Redis-backed MetadataStore: each FileRecord is a
// JSON blob under key "file:<id>", with secondary indexes as a string key
// "hash:<hex>" (id lookup by content hash) and two sorted sets, "expiry"
// and "uploaded", scored by unix nanoseconds: "expiry" backs ExpiredBefore
// and "uploaded" gives Search and AllIDs their ordering.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sagarc03/blobcache"
)

const (
	fileKeyPrefix = "file:"
	hashKeyPrefix = "hash:"
	expiryZSet    = "expiry"
	uploadedZSet  = "uploaded"
)

// Store is a blobcache.MetadataStore backed by Redis.
type Store struct {
	client *redis.Client
}

// New wraps an already-configured redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func fileKey(id uuid.UUID) string { return fileKeyPrefix + id.String() }
func hashKey(hash string) string  { return hashKeyPrefix + hash }

// Init pings Redis to confirm connectivity; there is no schema to create.
func (s *Store) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("init metadata store: %w", err)
	}
	return nil
}

// Save upserts the record and its three index entries as a single
// transaction (MULTI/EXEC), so a concurrent reader never observes a
// record without its corresponding index entries or vice versa.
func (s *Store) Save(ctx context.Context, record blobcache.FileRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("save: marshal record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fileKey(record.ID), data, 0)
		if record.Hash != "" {
			pipe.Set(ctx, hashKey(record.Hash), record.ID.String(), 0)
		}
		pipe.ZAdd(ctx, expiryZSet, redis.Z{Score: float64(record.ExpiresAt.UnixNano()), Member: record.ID.String()})
		pipe.ZAdd(ctx, uploadedZSet, redis.Z{Score: float64(record.UploadedAt.UnixNano()), Member: record.ID.String()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Get performs a single-id lookup.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (blobcache.FileRecord, error) {
	data, err := s.client.Get(ctx, fileKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return blobcache.FileRecord{}, blobcache.ErrNotFound
		}
		return blobcache.FileRecord{}, fmt.Errorf("get: %w", err)
	}

	var record blobcache.FileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("get: unmarshal record: %w", err)
	}
	return record, nil
}

// Delete removes the record and its index entries.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, fileKey(id))
		if record.Hash != "" {
			pipe.Del(ctx, hashKey(record.Hash))
		}
		pipe.ZRem(ctx, expiryZSet, id.String())
		pipe.ZRem(ctx, uploadedZSet, id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// FindByHash resolves the secondary hash index, then loads the record.
func (s *Store) FindByHash(ctx context.Context, hash string) (blobcache.FileRecord, error) {
	idStr, err := s.client.Get(ctx, hashKey(hash)).Result()
	if err != nil {
		if err == redis.Nil {
			return blobcache.FileRecord{}, blobcache.ErrNotFound
		}
		return blobcache.FileRecord{}, fmt.Errorf("find by hash: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("find by hash: parse id: %w", err)
	}
	return s.Get(ctx, id)
}

// Search walks the whole uploaded sorted set newest-first, loading and
// filtering every record, then applies Offset and Limit to the matches.
func (s *Store) Search(ctx context.Context, filter blobcache.SearchFilter) (blobcache.SearchResult, error) {
	memberIDs, err := s.client.ZRevRange(ctx, uploadedZSet, 0, -1).Result()
	if err != nil {
		return blobcache.SearchResult{}, fmt.Errorf("search: %w", err)
	}

	now := time.Now()
	matched := make([]blobcache.FileRecord, 0, len(memberIDs))
	for _, idStr := range memberIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		record, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if matches(record, filter, now) {
			matched = append(matched, record)
		}
	}

	total := len(matched)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return blobcache.SearchResult{Records: []blobcache.FileRecord{}, Total: total}, nil
	}
	matched = matched[offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

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

// AllIDs enumerates every id in the uploaded sorted set.
func (s *Store) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	memberIDs, err := s.client.ZRange(ctx, uploadedZSet, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(memberIDs))
	for _, idStr := range memberIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ExpiredBefore returns up to limit ids whose expiry score is at or before
// cutoff. The Expiry Reaper does not call it; it searches via Search.
func (s *Store) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int64) ([]uuid.UUID, error) {
	memberIDs, err := s.client.ZRangeByScore(ctx, expiryZSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixNano(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("expired before: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(memberIDs))
	for _, idStr := range memberIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Stats aggregates counters by loading every record. Acceptable for the
// dataset sizes this service targets; a dedicated counter key would be the
// next optimization if Stats became a hot path. Expired-but-unreaped
// records are excluded, matching Search's ExpiredOnly rule: an expired
// record is invisible to ordinary reads even before the reaper removes it.
func (s *Store) Stats(ctx context.Context) (blobcache.FileStats, error) {
	ids, err := s.AllIDs(ctx)
	if err != nil {
		return blobcache.FileStats{}, fmt.Errorf("stats: %w", err)
	}

	now := time.Now()
	stats := blobcache.FileStats{
		FilesByMime: map[string]int{},
		FilesByDate: map[string]int{},
	}
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
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

// Healthy pings the Redis connection.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
