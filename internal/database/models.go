package database

import (
	"encoding/json"
	"time"
)

// ErrorMessageLimit bounds persisted failure text; it matches the width of
// the media_assets.error_message and queue_messages.last_error columns.
const ErrorMessageLimit = 500

// MediaType enum for media_assets.type
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
)

// AssetStatus is the lifecycle state of a media asset. The upload path owns
// the transition into "uploaded"; this worker owns the rest.
type AssetStatus string

const (
	AssetStatusUploaded   AssetStatus = "uploaded"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusFailed     AssetStatus = "failed"
)

// Visibility selects the destination bucket for produced artifacts.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// MediaAsset represents one uploaded media object. The worker mutates the
// status, output keys, derived probe fields and the error message; everything
// else belongs to upload-time code.
//
// Invariant: Status == ready implies OutputKey, PosterKey, DurationSec, Width
// and Height are all set. A ready asset is the idempotency marker for
// redelivered jobs.
type MediaAsset struct {
	ID           string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Type         MediaType   `gorm:"type:varchar(16);not null;index" json:"type"`
	Status       AssetStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	SourceKey    string      `gorm:"type:varchar(512);not null" json:"source_key"`
	OutputKey    string      `gorm:"type:varchar(512)" json:"output_key"`
	PosterKey    string      `gorm:"type:varchar(512)" json:"poster_key"`
	DurationSec  float64     `json:"duration_sec"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	Codec        string      `gorm:"type:varchar(64)" json:"codec"`
	BitrateKbps  int         `json:"bitrate_kbps"`
	Visibility   Visibility  `gorm:"type:varchar(16);not null" json:"visibility"`
	ErrorMessage string      `gorm:"type:varchar(500)" json:"error_message"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (MediaAsset) TableName() string {
	return "media_assets"
}

// IsReady reports whether the asset already carries a finished HLS package.
func (a *MediaAsset) IsReady() bool {
	return a.Status == AssetStatusReady && a.OutputKey != ""
}

// JobStatus is the lifecycle state of one transcode attempt.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// TranscodeJob records one attempt of the transcode pipeline for an asset.
// Attempt is the domain-level counter carried in the queue payload: queue
// redeliveries of the same message reuse one row, a manual re-enqueue bumps
// the attempt and creates a new one. Rows are never deleted by the worker.
type TranscodeJob struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MediaAssetID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_asset_attempt" json:"media_asset_id"`
	Attempt      int        `gorm:"not null;uniqueIndex:idx_asset_attempt" json:"attempt"`
	Status       JobStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Logs         string     `gorm:"type:text" json:"logs"` // JSON diagnostic payload
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}

// SetLogs serializes the diagnostic payload into the Logs column.
func (j *TranscodeJob) SetLogs(v interface{}) error {
	if v == nil {
		j.Logs = ""
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Logs = string(data)
	return nil
}

// MessageStatus is the delivery state of a queued message.
type MessageStatus string

const (
	MessageStatusWaiting   MessageStatus = "waiting"
	MessageStatusActive    MessageStatus = "active"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusFailed    MessageStatus = "failed"
)

// QueueMessage is one durable at-least-once delivery on a named topic.
// AttemptsMade is the queue's own delivery counter and the sole input to the
// backoff schedule; it is distinct from the domain attempt inside Payload.
type QueueMessage struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Topic        string        `gorm:"type:varchar(128);not null;index:idx_topic_status" json:"topic"`
	Payload      string        `gorm:"type:text;not null" json:"payload"`
	Status       MessageStatus `gorm:"type:varchar(16);not null;index:idx_topic_status" json:"status"`
	AttemptsMade int           `gorm:"not null;default:0" json:"attempts_made"`
	MaxAttempts  int           `gorm:"not null" json:"max_attempts"`
	AvailableAt  time.Time     `gorm:"not null;index" json:"available_at"`
	LockedBy     string        `gorm:"type:varchar(64)" json:"locked_by"`
	LockedAt     *time.Time    `json:"locked_at"`
	LastError    string        `gorm:"type:varchar(500)" json:"last_error"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (QueueMessage) TableName() string {
	return "queue_messages"
}
