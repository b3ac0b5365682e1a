package filesystem_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sagarc03/blobcache"
	"github.com/sagarc03/blobcache/objectstore/filesystem"
	"github.com/stretchr/testify/assert"
)

func openStore(t *testing.T) (*filesystem.Store, string) {
	t.Helper()
	tempDir := t.TempDir()
	root, err := os.OpenRoot(tempDir)
	assert.NoError(t, err)
	return filesystem.New(root), tempDir
}

func TestStore_Put_Success(t *testing.T) {
	store, tempDir := openStore(t)
	ctx := context.Background()

	result, err := store.Put(ctx, "2026-07/test.txt", bytes.NewReader([]byte("test content")))
	assert.NoError(t, err)
	assert.Equal(t, int64(12), result.Size)

	data, err := os.ReadFile(filepath.Join(tempDir, "2026-07", "test.txt"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("test content"), data)
}

func TestStore_Put_ContextCanceledBefore(t *testing.T) {
	store, _ := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "test.txt", bytes.NewReader([]byte("test")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Put_ContextCanceledDuringCopy(t *testing.T) {
	store, _ := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	slow := &slowReader{data: []byte("test content"), cancel: cancel}

	_, err := store.Put(ctx, "test.txt", slow)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := store.Get(context.Background(), "test.txt")
	assert.ErrorIs(t, statErr, blobcache.ErrNotFound)
}

type slowReader struct {
	data   []byte
	pos    int
	cancel context.CancelFunc
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	r.cancel()
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func TestStore_Get_Success(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "test.txt", bytes.NewReader([]byte("test content")))
	assert.NoError(t, err)

	data, err := store.Get(ctx, "test.txt")
	assert.NoError(t, err)
	assert.Equal(t, []byte("test content"), data)
}

func TestStore_Get_NotFound(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing.txt")
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestStore_OpenRead_Success(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "test.txt", bytes.NewReader([]byte("streamed")))
	assert.NoError(t, err)

	rc, err := store.OpenRead(ctx, "test.txt")
	assert.NoError(t, err)
	data, err := io.ReadAll(rc)
	assert.NoError(t, err)
	assert.Equal(t, []byte("streamed"), data)
	assert.NoError(t, rc.Close())
}

func TestStore_Delete_Success(t *testing.T) {
	store, tempDir := openStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "test.txt", bytes.NewReader([]byte("content")))
	assert.NoError(t, err)

	err = store.Delete(ctx, "test.txt")
	assert.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(tempDir, "test.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_Delete_MissingIsNotAnError(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	err := store.Delete(ctx, "missing.txt")
	assert.NoError(t, err)
}

func TestStore_ListKeys_SkipsTempArtifacts(t *testing.T) {
	store, tempDir := openStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "2026-07/a.txt", bytes.NewReader([]byte("a")))
	assert.NoError(t, err)
	_, err = store.Put(ctx, "2026-07/b.txt", bytes.NewReader([]byte("b")))
	assert.NoError(t, err)

	err = os.WriteFile(filepath.Join(tempDir, "2026-07", ".tleftover"), []byte("x"), 0o644)
	assert.NoError(t, err)

	keys, err := store.ListKeys(ctx)
	assert.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestStore_ListKeys_Empty(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	keys, err := store.ListKeys(ctx)
	assert.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_Healthy(t *testing.T) {
	store, _ := openStore(t)
	assert.True(t, store.Healthy(context.Background()))
}

func TestStore_Integration_PutGetDelete(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	content := []byte("integration test content")
	result, err := store.Put(ctx, "2026-07/file.txt", bytes.NewReader(content))
	assert.NoError(t, err)
	assert.Equal(t, int64(len(content)), result.Size)

	data, err := store.Get(ctx, "2026-07/file.txt")
	assert.NoError(t, err)
	assert.Equal(t, content, data)

	keys, err := store.ListKeys(ctx)
	assert.NoError(t, err)
	assert.Len(t, keys, 1)

	assert.NoError(t, store.Delete(ctx, "2026-07/file.txt"))

	_, err = store.Get(ctx, "2026-07/file.txt")
	assert.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestStore_ConcurrentPuts(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	done := make(chan bool, 10)
	for i := range 10 {
		go func(n int) {
			content := fmt.Appendf(nil, "content-%d", n)
			key := fmt.Sprintf("file-%d.txt", n)
			_, err := store.Put(ctx, key, bytes.NewReader(content))
			assert.NoError(t, err)
			done <- true
		}(i)
	}

	for range 10 {
		<-done
	}

	keys, err := store.ListKeys(ctx)
	assert.NoError(t, err)
	assert.Len(t, keys, 10)
}
