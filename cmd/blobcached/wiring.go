package main

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sagarc03/blobcache"
	"github.com/sagarc03/blobcache/config"
	"github.com/sagarc03/blobcache/metastore/jsonfile"
	"github.com/sagarc03/blobcache/metastore/kv"
	"github.com/sagarc03/blobcache/metastore/postgres"
	"github.com/sagarc03/blobcache/metastore/sqlite"
	"github.com/sagarc03/blobcache/objectstore/filesystem"
	"github.com/sagarc03/blobcache/objectstore/s3"
)

// buildBackend constructs the configured ObjectBackend.
func buildBackend(ctx context.Context, cfg config.StorageConfig) (blobcache.ObjectBackend, func(), error) {
	switch cfg.Backend {
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build s3 backend: %w", err)
		}
		return store, func() {}, nil

	case "filesystem", "":
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}
		root, err := os.OpenRoot(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage root: %w", err)
		}
		store := filesystem.New(root)
		return store, func() { _ = root.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// buildMetadataStore constructs the configured MetadataStore.
func buildMetadataStore(ctx context.Context, cfg config.MetadataConfig, storageDir string) (blobcache.MetadataStore, func(), error) {
	switch cfg.Backend {
	case "kv":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		store := kv.New(client)
		if err := store.Init(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init kv metadata store: %w", err)
		}
		return store, func() { _ = client.Close() }, nil

	case "postgres":
		store, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres metadata store: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("init postgres metadata store: %w", err)
		}
		return store, store.Close, nil

	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = storageDir + "/metadata.db"
		}
		store, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite metadata store: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("init sqlite metadata store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "json", "":
		if err := os.MkdirAll(storageDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}
		store := jsonfile.New(storageDir + "/data.json")
		if err := store.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("init json metadata store: %w", err)
		}
		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported metadata backend: %s", cfg.Backend)
	}
}

func buildEngine(ctx context.Context, cfg *config.Config) (*blobcache.Engine, func(), error) {
	backend, closeBackend, err := buildBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	metadata, closeMetadata, err := buildMetadataStore(ctx, cfg.Metadata, cfg.Storage.Dir)
	if err != nil {
		closeBackend()
		return nil, nil, err
	}

	engine, err := blobcache.NewEngine(backend, metadata, blobcache.StorageConfig{
		BasePath:            cfg.Storage.Dir,
		MaxFileSize:         cfg.Storage.MaxFileSizeMB * (1 << 20),
		MaxTTL:              cfg.Storage.MaxTTLMin * 60,
		AllowedMimeTypes:    cfg.Storage.AllowedMimeTypes,
		EnableDeduplication: cfg.Storage.EnableDeduplication,
	})
	if err != nil {
		closeMetadata()
		closeBackend()
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}

	cleanup := func() {
		closeMetadata()
		closeBackend()
	}
	return engine, cleanup, nil
}
