package expiry_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/blobcache"
	"github.com/sagarc03/blobcache/metastore/jsonfile"
	"github.com/sagarc03/blobcache/objectstore/filesystem"
	"github.com/sagarc03/blobcache/reaper/expiry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *blobcache.Engine {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { root.Close() })

	backend := filesystem.New(root)
	metadata := jsonfile.New(filepath.Join(dir, "meta.json"))
	require.NoError(t, metadata.Init(ctx))

	engine, err := blobcache.NewEngine(backend, metadata, blobcache.StorageConfig{
		MaxFileSize:         1 << 20,
		MaxTTL:              3600,
		EnableDeduplication: false,
	})
	require.NoError(t, err)
	return engine
}

func upload(t *testing.T, engine *blobcache.Engine, ttl int) blobcache.FileRecord {
	t.Helper()
	record, err := engine.SaveFile(context.Background(), blobcache.SaveFileParams{
		Stream:       bytes.NewReader([]byte("payload")),
		OriginalName: "a.txt",
		DeclaredMime: "text/plain",
		TTL:          ttl,
	})
	require.NoError(t, err)
	return record
}

func TestReaper_SweepOlderThan_DeletesRegardlessOfTTL(t *testing.T) {
	engine := newEngine(t)
	expired := upload(t, engine, 60)
	live := upload(t, engine, 3600)

	// Force expired's ExpiresAt into the past by re-uploading isn't possible
	// post-hoc through the public API, so sweep with UploadedBefore instead
	// via SweepOlderThan to exercise the same delete path deterministically.
	r := expiry.New(engine, expiry.Config{BatchSize: 10})

	deleted, err := r.SweepOlderThan(context.Background(), time.Now().Add(time.Minute), 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = engine.GetFileInfo(context.Background(), expired.ID)
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
	_, err = engine.GetFileInfo(context.Background(), live.ID)
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestReaper_Sweep_ExpiredOnlyLeavesLiveRecords(t *testing.T) {
	engine := newEngine(t)
	live := upload(t, engine, 3600)

	r := expiry.New(engine, expiry.Config{BatchSize: 10})
	assert.NoError(t, r.Sweep(context.Background()))

	got, err := engine.GetFileInfo(context.Background(), live.ID)
	assert.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
}

func TestReaper_Sweep_DryRunDeletesNothing(t *testing.T) {
	engine := newEngine(t)
	record := upload(t, engine, 60)

	r := expiry.New(engine, expiry.Config{BatchSize: 10, DryRun: true})

	deleted, err := r.SweepOlderThan(context.Background(), time.Now().Add(time.Minute), 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	got, err := engine.GetFileInfo(context.Background(), record.ID)
	assert.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
}

func TestReaper_Stats_TracksLastRun(t *testing.T) {
	engine := newEngine(t)
	upload(t, engine, 3600)

	r := expiry.New(engine, expiry.Config{BatchSize: 10})
	require.NoError(t, r.Sweep(context.Background()))

	stats := r.Stats()
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestReaper_Sweep_PagesPastASingleBatch(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	metadata := engine.Metadata()
	backend := engine.Backend()

	past := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		id := uuid.New()
		key := blobcache.JoinKey(blobcache.DatePrefix(time.Now()), id.String())
		_, err := backend.Put(ctx, key, bytes.NewReader([]byte("payload")))
		require.NoError(t, err)
		require.NoError(t, metadata.Save(ctx, blobcache.FileRecord{
			ID: id, Hash: id.String(), MimeType: "text/plain", Size: 7,
			UploadedAt: past, TTL: 60, ExpiresAt: past.Add(time.Minute), FilePath: key,
		}))
	}

	// BatchSize forces multiple pages; Sweep must keep paging rather than
	// stopping after the first full page.
	r := expiry.New(engine, expiry.Config{BatchSize: 2})
	require.NoError(t, r.Sweep(ctx))

	assert.Equal(t, int64(5), r.Stats().TotalDeleted)
}

func TestReaper_StartStop_NoopWithoutSchedule(t *testing.T) {
	engine := newEngine(t)
	r := expiry.New(engine, expiry.Config{})
	assert.NoError(t, r.Start(context.Background()))
	r.Stop()
}
