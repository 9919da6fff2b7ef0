// Package config loads and validates the worker configuration from the
// environment. The process fails fast at startup on any invalid value; no
// component ever re-reads the environment after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the transcode worker.
type Config struct {
	// Record store
	DatabaseURL string `json:"database_url"`

	// Queue
	QueueTopic            string `json:"queue_topic" default:"media.transcode"`
	WorkerConcurrency     int    `json:"worker_concurrency" default:"2"`
	BackoffBaseMs         int    `json:"backoff_base_ms" default:"5000"`
	MaxAttempts           int    `json:"max_attempts" default:"3"`
	PollIntervalMs        int    `json:"poll_interval_ms" default:"1000"`
	VisibilityTimeoutMs   int    `json:"visibility_timeout_ms" default:"900000"`

	// Subprocess tools
	FFmpegPath          string `json:"ffmpeg_path" default:"ffmpeg"`
	FFprobePath         string `json:"ffprobe_path" default:"ffprobe"`
	SubprocessTimeoutMs int    `json:"subprocess_timeout_ms" default:"7200000"`

	// HLS output
	SegmentSeconds     int             `json:"segment_seconds" default:"6"`
	MasterPlaylistName string          `json:"master_playlist_name" default:"master.m3u8"`
	Variants           []VariantConfig `json:"variants"`
	PosterTimeFraction float64         `json:"poster_time_fraction" default:"0.25"`

	// Object storage
	S3Endpoint       string `json:"s3_endpoint"`
	S3Region         string `json:"s3_region" default:"us-east-1"`
	S3AccessKey      string `json:"s3_access_key"`
	S3SecretKey      string `json:"s3_secret_key"`
	PublicBucket     string `json:"public_bucket"`
	PrivateBucket    string `json:"private_bucket"`
	S3ForcePathStyle bool   `json:"s3_force_path_style"`

	// Cache policy overrides (seconds)
	ManifestCacheMaxAge int `json:"manifest_cache_max_age" default:"120"`
	SegmentCacheMaxAge  int `json:"segment_cache_max_age" default:"31536000"`

	// Local scratch space
	ScratchDir       string `json:"scratch_dir"`
	ScratchMinFreeMB int    `json:"scratch_min_free_mb" default:"512"`

	// Operational surface
	HealthAddr string `json:"health_addr" default:":8080"`
	LogLevel   string `json:"log_level" default:"info"`
}

// VariantConfig describes one target rendition of the HLS ladder. The
// configured order is preserved end to end, including in the master manifest.
type VariantConfig struct {
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"videoBitrateKbps"`
	AudioBitrateKbps int    `json:"audioBitrateKbps"`
}

// Load reads configuration from the environment, seeding it from a .env file
// when one is present, and validates the result.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		QueueTopic:          env.String("QUEUE_TOPIC", "media.transcode"),
		WorkerConcurrency:   env.Int("WORKER_CONCURRENCY", 2),
		BackoffBaseMs:       env.Int("QUEUE_BACKOFF_BASE_MS", 5000),
		MaxAttempts:         env.Int("QUEUE_MAX_ATTEMPTS", 3),
		PollIntervalMs:      env.Int("QUEUE_POLL_INTERVAL_MS", 1000),
		VisibilityTimeoutMs: env.Int("QUEUE_VISIBILITY_TIMEOUT_MS", 900000),
		FFmpegPath:          env.String("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:         env.String("FFPROBE_PATH", "ffprobe"),
		SubprocessTimeoutMs: env.Int("SUBPROCESS_TIMEOUT_MS", 7200000),
		SegmentSeconds:      env.Int("HLS_SEGMENT_SECONDS", 6),
		MasterPlaylistName:  env.String("MASTER_PLAYLIST_NAME", "master.m3u8"),
		PosterTimeFraction:  env.Float("POSTER_TIME_FRACTION", 0.25),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3Region:            env.String("S3_REGION", "us-east-1"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		PublicBucket:        os.Getenv("S3_PUBLIC_BUCKET"),
		PrivateBucket:       os.Getenv("S3_PRIVATE_BUCKET"),
		S3ForcePathStyle:    env.Bool("S3_FORCE_PATH_STYLE", false),
		ManifestCacheMaxAge: env.Int("MANIFEST_CACHE_MAX_AGE_SECONDS", 120),
		SegmentCacheMaxAge:  env.Int("SEGMENT_CACHE_MAX_AGE_SECONDS", 31536000),
		ScratchDir:          env.String("SCRATCH_DIR", os.TempDir()),
		ScratchMinFreeMB:    env.Int("SCRATCH_MIN_FREE_MB", 512),
		HealthAddr:          env.String("HEALTH_ADDR", ":8080"),
		LogLevel:            env.String("LOG_LEVEL", "info"),
	}
	if env.err != nil {
		return nil, env.err
	}

	variants, err := ParseVariants(os.Getenv("TRANSCODE_VARIANTS"))
	if err != nil {
		return nil, err
	}
	cfg.Variants = variants

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseVariants decodes the JSON-encoded rendition ladder. At least one entry
// is required and every entry must carry a name and positive dimensions and
// bitrates.
func ParseVariants(raw string) ([]VariantConfig, error) {
	if raw == "" {
		return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: "is required"}
	}
	var variants []VariantConfig
	if err := json.Unmarshal([]byte(raw), &variants); err != nil {
		return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(variants) == 0 {
		return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: "must contain at least one variant"}
	}
	seen := make(map[string]bool, len(variants))
	for i, v := range variants {
		if v.Name == "" {
			return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: fmt.Sprintf("variant %d: name is required", i)}
		}
		if seen[v.Name] {
			return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: fmt.Sprintf("duplicate variant name %q", v.Name)}
		}
		seen[v.Name] = true
		if v.Width <= 0 || v.Height <= 0 {
			return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: fmt.Sprintf("variant %q: width and height must be positive", v.Name)}
		}
		if v.VideoBitrateKbps <= 0 || v.AudioBitrateKbps <= 0 {
			return nil, &ValidationError{Field: "TRANSCODE_VARIANTS", Message: fmt.Sprintf("variant %q: bitrates must be positive", v.Name)}
		}
	}
	return variants, nil
}

// Validate checks the configuration for values the worker cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return &ValidationError{Field: "DATABASE_URL", Message: "is required"}
	}
	if c.WorkerConcurrency < 1 {
		return &ValidationError{Field: "WORKER_CONCURRENCY", Message: "must be at least 1"}
	}
	if c.BackoffBaseMs < 1 {
		return &ValidationError{Field: "QUEUE_BACKOFF_BASE_MS", Message: "must be positive"}
	}
	if c.MaxAttempts < 1 {
		return &ValidationError{Field: "QUEUE_MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	if c.SegmentSeconds < 1 {
		return &ValidationError{Field: "HLS_SEGMENT_SECONDS", Message: "must be at least 1 second"}
	}
	if c.MasterPlaylistName == "" {
		return &ValidationError{Field: "MASTER_PLAYLIST_NAME", Message: "is required"}
	}
	if c.PosterTimeFraction < 0 || c.PosterTimeFraction > 1 {
		return &ValidationError{Field: "POSTER_TIME_FRACTION", Message: "must be between 0 and 1"}
	}
	if c.PublicBucket == "" {
		return &ValidationError{Field: "S3_PUBLIC_BUCKET", Message: "is required"}
	}
	if c.PrivateBucket == "" {
		return &ValidationError{Field: "S3_PRIVATE_BUCKET", Message: "is required"}
	}
	if c.ManifestCacheMaxAge < 0 || c.SegmentCacheMaxAge < 0 {
		return &ValidationError{Field: "cache max-age", Message: "must not be negative"}
	}
	if len(c.Variants) == 0 {
		return &ValidationError{Field: "TRANSCODE_VARIANTS", Message: "must contain at least one variant"}
	}
	return nil
}

// BackoffBase returns the queue backoff base as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// PollInterval returns the idle queue poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// VisibilityTimeout returns how long a claimed message may stay locked before
// it is considered stalled.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutMs) * time.Millisecond
}

// SubprocessTimeout returns the per-invocation ffmpeg/ffprobe deadline.
func (c *Config) SubprocessTimeout() time.Duration {
	return time.Duration(c.SubprocessTimeoutMs) * time.Millisecond
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Field + " " + e.Message
}

// envReader reads typed environment values and records the first unparseable
// one, so Load rejects a misspelled setting instead of quietly running on the
// default.
type envReader struct {
	err error
}

func (r *envReader) fail(key, kind, value string) {
	if r.err == nil {
		r.err = &ValidationError{Field: key, Message: fmt.Sprintf("must be %s, got %q", kind, value)}
	}
}

func (r *envReader) String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "an integer", v)
		return def
	}
	return n
}

func (r *envReader) Float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, "a number", v)
		return def
	}
	return f
}

func (r *envReader) Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, "a boolean", v)
		return def
	}
	return b
}
