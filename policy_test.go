package blobcache_test

import (
	"testing"
	"time"

	"github.com/sagarc03/blobcache"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.txt", "report.txt"},
		{"path traversal", "../../etc/passwd", "etc_passwd"},
		{"control chars", "a\x00b\x01c", "a_b_c"},
		{"collapses runs", "a   b", "a_b"},
		{"empty becomes file", "!!!", "file"},
		{"unicode letters kept", "résumé.pdf", "résumé.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blobcache.SanitizeName(tt.in))
		})
	}
}

func TestSafeStoredName(t *testing.T) {
	name := blobcache.SafeStoredName("greeting.txt", "deadbeefcafe0123")
	assert.Equal(t, "greeting_deadbeef.txt", name)
}

func TestSafeStoredName_TruncatesLongBase(t *testing.T) {
	name := blobcache.SafeStoredName("this-is-a-very-long-original-filename.txt", "deadbeefcafe0123")
	assert.LessOrEqual(t, len(name), 255)
	assert.Contains(t, name, "deadbeef")
	assert.Contains(t, name, ".txt")
}

func TestSafeStoredName_ShortHash(t *testing.T) {
	name := blobcache.SafeStoredName("a.txt", "abc")
	assert.Equal(t, "a_abc.txt", name)
}

func TestDatePrefix(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-07", blobcache.DatePrefix(ts))
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "2026-07/abc123", blobcache.JoinKey("2026-07", "abc123"))
	assert.Equal(t, "2026-07/abc123", blobcache.JoinKey("/2026-07/", "/abc123/"))
	assert.Equal(t, "abc123", blobcache.JoinKey("", "abc123", ""))
}
