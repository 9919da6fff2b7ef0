package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVariants = `[
	{"name":"240p","width":426,"height":240,"videoBitrateKbps":400,"audioBitrateKbps":64},
	{"name":"480p","width":854,"height":480,"videoBitrateKbps":800,"audioBitrateKbps":96}
]`

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite::memory:")
	t.Setenv("TRANSCODE_VARIANTS", testVariants)
	t.Setenv("S3_PUBLIC_BUCKET", "media-public")
	t.Setenv("S3_PRIVATE_BUCKET", "media-private")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "media.transcode", cfg.QueueTopic)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5000, cfg.BackoffBaseMs)
	assert.Equal(t, 6, cfg.SegmentSeconds)
	assert.Equal(t, "master.m3u8", cfg.MasterPlaylistName)
	assert.Equal(t, 0.25, cfg.PosterTimeFraction)
	assert.Equal(t, 120, cfg.ManifestCacheMaxAge)
	assert.Equal(t, 31536000, cfg.SegmentCacheMaxAge)
	assert.Len(t, cfg.Variants, 2)
	assert.Equal(t, "240p", cfg.Variants[0].Name)
	assert.Equal(t, "480p", cfg.Variants[1].Name)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("QUEUE_BACKOFF_BASE_MS", "250")
	t.Setenv("POSTER_TIME_FRACTION", "0.5")
	t.Setenv("S3_FORCE_PATH_STYLE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 250, cfg.BackoffBaseMs)
	assert.Equal(t, 0.5, cfg.PosterTimeFraction)
	assert.True(t, cfg.S3ForcePathStyle)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_InvalidPosterFraction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POSTER_TIME_FRACTION", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTER_TIME_FRACTION")
}

func TestLoad_MalformedEnvValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"int", "QUEUE_MAX_ATTEMPTS", "three"},
		{"float", "POSTER_TIME_FRACTION", "quarter"},
		{"bool", "S3_FORCE_PATH_STYLE", "yep"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.key, verr.Field)
			assert.Contains(t, err.Error(), tc.value)
		})
	}
}

func TestParseVariants(t *testing.T) {
	variants, err := ParseVariants(testVariants)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, VariantConfig{Name: "240p", Width: 426, Height: 240, VideoBitrateKbps: 400, AudioBitrateKbps: 64}, variants[0])
}

func TestParseVariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "required"},
		{"bad json", "{nope", "invalid JSON"},
		{"empty list", "[]", "at least one"},
		{"missing name", `[{"width":426,"height":240,"videoBitrateKbps":400,"audioBitrateKbps":64}]`, "name is required"},
		{"duplicate name", `[
			{"name":"240p","width":426,"height":240,"videoBitrateKbps":400,"audioBitrateKbps":64},
			{"name":"240p","width":426,"height":240,"videoBitrateKbps":400,"audioBitrateKbps":64}
		]`, "duplicate"},
		{"zero dimensions", `[{"name":"240p","width":0,"height":240,"videoBitrateKbps":400,"audioBitrateKbps":64}]`, "must be positive"},
		{"zero bitrate", `[{"name":"240p","width":426,"height":240,"videoBitrateKbps":0,"audioBitrateKbps":64}]`, "bitrates must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseVariants(tc.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
