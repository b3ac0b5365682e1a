package kv_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sagarc03/blobcache"
	"github.com/sagarc03/blobcache/metastore/kv"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	sharedClient *goredis.Client
	sharedOnce   sync.Once
)

// getSharedRedis returns a client against a single container reused across
// this package's tests, keyspaces separated per-test via FLUSHDB.
func getSharedRedis(t *testing.T) *goredis.Client {
	t.Helper()

	sharedOnce.Do(func() {
		ctx := context.Background()

		container, err := rediscontainer.Run(ctx, "redis:7-alpine")
		if err != nil {
			t.Fatalf("failed to start redis container: %v", err)
		}

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate container: %s", err)
			}
		})

		connStr, err := container.ConnectionString(ctx)
		if err != nil {
			t.Fatalf("failed to get connection string: %v", err)
		}

		opts, err := goredis.ParseURL(connStr)
		if err != nil {
			t.Fatalf("failed to parse connection string: %v", err)
		}

		sharedClient = goredis.NewClient(opts)
	})

	return sharedClient
}

func newStore(t *testing.T) *kv.Store {
	t.Helper()
	client := getSharedRedis(t)
	assert.NoError(t, client.FlushDB(context.Background()).Err())
	return kv.New(client)
}

func TestStore_Init(t *testing.T) {
	store := newStore(t)
	assert.NoError(t, store.Init(context.Background()))
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	record := blobcache.FileRecord{
		ID:         id,
		Hash:       "abc123",
		UploadedAt: time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	assert.NoError(t, store.Save(ctx, record))

	got, err := store.Get(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestStore_Delete_RemovesIndexes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	assert.NoError(t, store.Save(ctx, blobcache.FileRecord{
		ID: id, Hash: "xyz", UploadedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))
	assert.NoError(t, store.Delete(ctx, id))

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, blobcache.ErrNotFound)

	_, err = store.FindByHash(ctx, "xyz")
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestStore_FindByHash(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	assert.NoError(t, store.Save(ctx, blobcache.FileRecord{
		ID: id, Hash: "findme", UploadedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	found, err := store.FindByHash(ctx, "findme")
	assert.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func TestStore_Search_OrdersNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	older := uuid.New()
	newer := uuid.New()
	assert.NoError(t, store.Save(ctx, blobcache.FileRecord{ID: older, UploadedAt: now, ExpiresAt: now.Add(time.Hour)}))
	assert.NoError(t, store.Save(ctx, blobcache.FileRecord{ID: newer, UploadedAt: now.Add(time.Minute), ExpiresAt: now.Add(time.Hour)}))

	result, err := store.Search(ctx, blobcache.SearchFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, newer, result.Records[0].ID)
}

func TestStore_ExpiredBefore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := uuid.New()
	live := uuid.New()
	assert.NoError(t, store.Save(ctx, blobcache.FileRecord{ID: expired, UploadedAt: now, ExpiresAt: now.Add(-time.Minute)}))
	assert.NoError(t, store.Save(ctx, blobcache.FileRecord{ID: live, UploadedAt: now, ExpiresAt: now.Add(time.Hour)}))

	ids, err := store.ExpiredBefore(ctx, now, 100)
	assert.NoError(t, err)
	assert.Contains(t, ids, expired)
	assert.NotContains(t, ids, live)
}

func TestStore_Stats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	store.Save(ctx, blobcache.FileRecord{ID: uuid.New(), Size: 100, MimeType: "text/plain", UploadedAt: now, ExpiresAt: now.Add(time.Hour)})
	store.Save(ctx, blobcache.FileRecord{ID: uuid.New(), Size: 200, MimeType: "text/plain", UploadedAt: now, ExpiresAt: now.Add(time.Hour)})

	stats, err := store.Stats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, int64(300), stats.TotalSize)
}

func TestStore_Stats_ExcludesExpiredRecords(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	store.Save(ctx, blobcache.FileRecord{ID: uuid.New(), Size: 100, MimeType: "text/plain", UploadedAt: now, ExpiresAt: now.Add(time.Hour)})
	store.Save(ctx, blobcache.FileRecord{ID: uuid.New(), Size: 200, MimeType: "text/plain", UploadedAt: now, ExpiresAt: now.Add(-time.Hour)})

	stats, err := store.Stats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(100), stats.TotalSize)
}

func TestStore_Healthy(t *testing.T) {
	store := newStore(t)
	assert.True(t, store.Healthy(context.Background()))
}
