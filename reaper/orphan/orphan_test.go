package orphan_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/blobcache"
	"github.com/sagarc03/blobcache/metastore/jsonfile"
	"github.com/sagarc03/blobcache/objectstore/filesystem"
	"github.com/sagarc03/blobcache/reaper/orphan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtures(t *testing.T) (*filesystem.Store, *jsonfile.Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { root.Close() })

	backend := filesystem.New(root)
	metadata := jsonfile.New(filepath.Join(dir, "meta.json"))
	require.NoError(t, metadata.Init(ctx))

	return backend, metadata
}

func TestReaper_Sweep_DeletesUnreferencedOldObject(t *testing.T) {
	backend, metadata := newFixtures(t)
	ctx := context.Background()

	_, err := backend.Put(ctx, "2026-07/orphan-key", strings.NewReader("leftover"))
	require.NoError(t, err)

	r := orphan.New(backend, metadata, orphan.Config{GraceWindow: time.Nanosecond})
	time.Sleep(2 * time.Millisecond)

	deleted, err := r.Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = backend.Get(ctx, "2026-07/orphan-key")
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestReaper_Sweep_SkipsRecentObjects(t *testing.T) {
	backend, metadata := newFixtures(t)
	ctx := context.Background()

	_, err := backend.Put(ctx, "2026-07/fresh-key", strings.NewReader("just written"))
	require.NoError(t, err)

	r := orphan.New(backend, metadata, orphan.Config{GraceWindow: time.Hour})

	deleted, err := r.Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	_, err = backend.Get(ctx, "2026-07/fresh-key")
	assert.NoError(t, err)
}

func TestReaper_Sweep_KeepsReferencedObjects(t *testing.T) {
	backend, metadata := newFixtures(t)
	ctx := context.Background()

	key := "2026-07/" + uuid.NewString()
	_, err := backend.Put(ctx, key, strings.NewReader("payload"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, metadata.Save(ctx, blobcache.FileRecord{
		ID: uuid.New(), Hash: uuid.NewString(), FilePath: key,
		UploadedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	r := orphan.New(backend, metadata, orphan.Config{GraceWindow: time.Nanosecond})
	time.Sleep(2 * time.Millisecond)

	deleted, err := r.Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	_, err = backend.Get(ctx, key)
	assert.NoError(t, err)
}

func TestReaper_Sweep_DryRunDeletesNothing(t *testing.T) {
	backend, metadata := newFixtures(t)
	ctx := context.Background()

	_, err := backend.Put(ctx, "2026-07/orphan-key", strings.NewReader("leftover"))
	require.NoError(t, err)

	r := orphan.New(backend, metadata, orphan.Config{GraceWindow: time.Nanosecond, DryRun: true})
	time.Sleep(2 * time.Millisecond)

	deleted, err := r.Sweep(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	_, err = backend.Get(ctx, "2026-07/orphan-key")
	assert.NoError(t, err)
}

func TestReaper_StartStop_NoopWithoutSchedule(t *testing.T) {
	backend, metadata := newFixtures(t)
	r := orphan.New(backend, metadata, orphan.Config{})
	assert.NoError(t, r.Start(context.Background()))
	r.Stop()
}
