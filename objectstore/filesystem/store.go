// Package filesystem provides the local-disk ObjectBackend: atomic writes
// via temp file + fsync + rename, sandboxed under an os.Root so a crafted
// key can never escape the configured base directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sagarc03/blobcache"
)

// Store is a blobcache.ObjectBackend rooted at a single base directory.
type Store struct {
	root *os.Root
}

// Open roots a Store at basePath, creating it if absent.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("open filesystem store: %w", err)
	}
	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("open filesystem store: %w", err)
	}
	return &Store{root: root}, nil
}

// New wraps an already-opened root, mainly for tests.
func New(root *os.Root) *Store {
	return &Store{root: root}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Put atomically writes content under key via temp file + fsync + rename.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (blobcache.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return blobcache.PutResult{}, err
	}

	tmpName := tmpFileName()
	t, err := s.root.Create(tmpName)
	if err != nil {
		return blobcache.PutResult{}, fmt.Errorf("could not open temp file: %w", err)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	written, err := io.Copy(t, &ctxReader{ctx: ctx, r: content})
	if err != nil {
		return blobcache.PutResult{}, err
	}

	if err := t.Sync(); err != nil {
		return blobcache.PutResult{}, fmt.Errorf("could not sync written file: %w", err)
	}

	destDir := filepath.Dir(key)
	if destDir != "." {
		if err := s.root.MkdirAll(destDir, 0o755); err != nil {
			return blobcache.PutResult{}, fmt.Errorf("could not create intermediate directories: %w", err)
		}
	}

	if err := s.root.Rename(tmpName, key); err != nil {
		return blobcache.PutResult{}, fmt.Errorf("failed to rename file: %w", err)
	}
	success = true

	return blobcache.PutResult{Size: written}, nil
}

// Get reads an object fully into memory.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.root.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blobcache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: f})
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// OpenRead opens a lazy stream. The caller must close it.
func (s *Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.root.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blobcache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes an object. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.root.Remove(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not delete file: %w", err)
	}
	return nil
}

// ListKeys walks the root recursively, skipping temp artifacts from
// in-progress or aborted writes and top-level metadata store files.
func (s *Store) ListKeys(ctx context.Context) ([]blobcache.BackendKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []blobcache.BackendKey
	if err := s.walkDir(ctx, ".", &keys); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

func (s *Store) walkDir(ctx context.Context, dir string, keys *[]blobcache.BackendKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := fs.ReadDir(s.root.FS(), dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		entryPath := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := s.walkDir(ctx, entryPath, keys); err != nil {
				return err
			}
			continue
		}

		if isTempArtifact(entry.Name()) {
			continue
		}

		// A metadata store sharing the base directory keeps its files at the
		// top level (data.json and its temp/quarantine copies, metadata.db
		// and its journals); they are never object keys.
		if dir == "." && (strings.Contains(entry.Name(), ".json") || strings.Contains(entry.Name(), ".db")) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}

		*keys = append(*keys, blobcache.BackendKey{Key: entryPath, ModTime: info.ModTime()})
	}

	return nil
}

// Healthy probes the root by stat-ing it.
func (s *Store) Healthy(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	_, err := fs.Stat(s.root.FS(), ".")
	return err == nil
}

func isTempArtifact(name string) bool {
	return len(name) > 1 && name[0] == '.' && name[1] == 't'
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
