// Package storage moves files between local disk and S3-compatible object
// storage and owns the bucket, key, content-type and cache-control policy for
// every produced artifact.
package storage

import (
	"fmt"
	"path"

	"github.com/clipstream/transcoder/internal/config"
	"github.com/clipstream/transcoder/internal/database"
)

// Content types per artifact kind.
const (
	ContentTypeManifest = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
	ContentTypePoster   = "image/jpeg"
)

// Policy resolves buckets and headers from an asset's visibility and the
// configured cache lifetimes.
type Policy struct {
	PublicBucket        string
	PrivateBucket       string
	ManifestCacheMaxAge int // seconds
	SegmentCacheMaxAge  int // seconds
}

// NewPolicy builds the artifact policy from configuration.
func NewPolicy(cfg *config.Config) *Policy {
	return &Policy{
		PublicBucket:        cfg.PublicBucket,
		PrivateBucket:       cfg.PrivateBucket,
		ManifestCacheMaxAge: cfg.ManifestCacheMaxAge,
		SegmentCacheMaxAge:  cfg.SegmentCacheMaxAge,
	}
}

// BucketFor selects the destination bucket. Public visibility maps to the
// public bucket; anything else stays private.
func (p *Policy) BucketFor(visibility database.Visibility) string {
	if visibility == database.VisibilityPublic {
		return p.PublicBucket
	}
	return p.PrivateBucket
}

// ManifestCacheControl returns the short-lived public cache header for master
// and variant playlists. Manifests stay mutable so a re-transcode can replace
// them.
func (p *Policy) ManifestCacheControl() string {
	return fmt.Sprintf("public, max-age=%d", p.ManifestCacheMaxAge)
}

// SegmentCacheControl returns the immutable long-lived header shared by
// segments and posters; their keys never change content.
func (p *Policy) SegmentCacheControl() string {
	return fmt.Sprintf("public, max-age=%d, immutable", p.SegmentCacheMaxAge)
}

// Output key layout. Everything produced for an asset lives under a stable
// prefix keyed by asset ID.

// MasterKey returns the object key of the master manifest.
func MasterKey(assetID, masterName string) string {
	return path.Join("hls", assetID, masterName)
}

// VariantPlaylistKey returns the object key of one rendition playlist.
func VariantPlaylistKey(assetID, variantName string) string {
	return path.Join("hls", assetID, variantName, variantName+".m3u8")
}

// SegmentKey returns the object key of one segment file.
func SegmentKey(assetID, variantName, fileName string) string {
	return path.Join("hls", assetID, variantName, fileName)
}

// PosterKey returns the object key of the poster image.
func PosterKey(assetID string) string {
	return path.Join("posters", assetID+".jpg")
}
