// Package s3 provides an S3-compatible ObjectBackend, built on the AWS SDK
// for Go v2. It uses the s3manager uploader so an upload of unknown length
// (the common case for a streamed request body) is chunked into a
// multipart upload transparently.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	awshttp "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sagarc03/blobcache"
)

// Config describes how to reach the S3-compatible endpoint.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // empty uses AWS's default resolver
	PathStyle bool   // required by most non-AWS S3-compatible servers
	AccessKey string
	SecretKey string
}

// Store is a blobcache.ObjectBackend backed by a single S3 bucket.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New builds a Store from cfg, loading AWS SDK defaults and overriding the
// endpoint/credentials/path-style when configured for a non-AWS target.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: %w: bucket is required", blobcache.ErrValidation)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3 store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awshttp.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Put streams content to key via the multipart uploader, which handles
// unknown-length input without buffering the whole object in memory.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (blobcache.PutResult, error) {
	counter := &countingReader{r: content}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: awshttp.String(s.bucket),
		Key:    awshttp.String(key),
		Body:   counter,
	})
	if err != nil {
		return blobcache.PutResult{}, fmt.Errorf("put %s: %w", key, err)
	}

	return blobcache.PutResult{Size: counter.n}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Get performs a whole-object GetObject and buffers the body.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.OpenRead(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// OpenRead opens a GetObject stream. The caller must close it.
func (s *Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awshttp.String(s.bucket),
		Key:    awshttp.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, blobcache.ErrNotFound
		}
		return nil, fmt.Errorf("open read %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes an object. Idempotent: S3 DeleteObject does not error on a
// missing key, so this method never needs to translate a not-found error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awshttp.String(s.bucket),
		Key:    awshttp.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListKeys paginates through the whole bucket via ListObjectsV2.
func (s *Store) ListKeys(ctx context.Context) ([]blobcache.BackendKey, error) {
	var keys []blobcache.BackendKey

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: awshttp.String(s.bucket),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := blobcache.BackendKey{Key: *obj.Key}
			if obj.LastModified != nil {
				key.ModTime = *obj.LastModified
			}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Healthy probes the bucket with a HeadBucket call.
func (s *Store) Healthy(ctx context.Context) bool {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: awshttp.String(s.bucket),
	})
	return err == nil
}

