package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipstream/transcoder/internal/config"
	"github.com/clipstream/transcoder/internal/database"
)

func testPolicy() *Policy {
	return NewPolicy(&config.Config{
		PublicBucket:        "media-public",
		PrivateBucket:       "media-private",
		ManifestCacheMaxAge: 120,
		SegmentCacheMaxAge:  31536000,
	})
}

func TestBucketFor(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, "media-public", p.BucketFor(database.VisibilityPublic))
	assert.Equal(t, "media-private", p.BucketFor(database.VisibilityPrivate))

	// Unknown visibility never leaks into the public bucket.
	assert.Equal(t, "media-private", p.BucketFor(database.Visibility("internal")))
}

func TestCacheControl(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, "public, max-age=120", p.ManifestCacheControl())
	assert.Equal(t, "public, max-age=31536000, immutable", p.SegmentCacheControl())
}

func TestKeyLayout(t *testing.T) {
	const id = "a1b2c3"

	assert.Equal(t, "hls/a1b2c3/master.m3u8", MasterKey(id, "master.m3u8"))
	assert.Equal(t, "hls/a1b2c3/480p/480p.m3u8", VariantPlaylistKey(id, "480p"))
	assert.Equal(t, "hls/a1b2c3/480p/480p_001.ts", SegmentKey(id, "480p", "480p_001.ts"))
	assert.Equal(t, "posters/a1b2c3.jpg", PosterKey(id))
}
