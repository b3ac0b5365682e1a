package s3_test

import (
	"context"
	"testing"

	"github.com/sagarc03/blobcache"
	s3store "github.com/sagarc03/blobcache/objectstore/s3"
	"github.com/stretchr/testify/assert"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := s3store.New(context.Background(), s3store.Config{})
	assert.Error(t, err)
	assert.ErrorIs(t, err, blobcache.ErrValidation)
}

func TestNew_DefaultsRegion(t *testing.T) {
	store, err := s3store.New(context.Background(), s3store.Config{
		Bucket:    "blobcache-test",
		Endpoint:  "http://127.0.0.1:9000",
		PathStyle: true,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	assert.NoError(t, err)
	assert.NotNil(t, store)
}
