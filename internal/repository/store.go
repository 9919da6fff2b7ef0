// Package repository provides the data access layer for media assets and
// transcode attempts, including the transactional state transitions the
// pipeline commits. Multi-field transitions always run inside one transaction
// so observers never see an asset marked ready without its output keys, nor a
// job marked processing without a start timestamp.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/clipstream/transcoder/internal/database"
	"github.com/clipstream/transcoder/internal/xerrors"
)

// Store handles media asset and transcode job data access.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new store around an open database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetAsset retrieves a media asset by ID. A missing row maps to
// xerrors.ErrAssetNotFound.
func (s *Store) GetAsset(ctx context.Context, id string) (*database.MediaAsset, error) {
	var asset database.MediaAsset
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerrors.ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// CreateAsset inserts a media asset row. Used by the upload path and tests;
// the worker itself never creates assets.
func (s *Store) CreateAsset(ctx context.Context, asset *database.MediaAsset) error {
	return s.db.WithContext(ctx).Create(asset).Error
}

// GetJob retrieves the attempt row for (assetID, attempt), or nil when none
// exists yet.
func (s *Store) GetJob(ctx context.Context, assetID string, attempt int) (*database.TranscodeJob, error) {
	var job database.TranscodeJob
	err := s.db.WithContext(ctx).
		Where("media_asset_id = ? AND attempt = ?", assetID, attempt).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimProcessing is the claim-side transition: in one transaction it upserts
// the TranscodeJob row for (assetID, attempt) to processing with a start
// timestamp, and moves the asset to processing with its error message
// cleared. Returns the job row.
func (s *Store) ClaimProcessing(ctx context.Context, jobID, assetID string, attempt int) (*database.TranscodeJob, error) {
	now := time.Now().UTC()
	var job *database.TranscodeJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.TranscodeJob
		err := tx.Where("media_asset_id = ? AND attempt = ?", assetID, attempt).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			job = &database.TranscodeJob{
				ID:           jobID,
				MediaAssetID: assetID,
				Attempt:      attempt,
				Status:       database.JobStatusProcessing,
				StartedAt:    &now,
			}
			if err := tx.Create(job).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			// Redelivery of the same attempt reuses the existing row.
			existing.Status = database.JobStatusProcessing
			existing.StartedAt = &now
			existing.FinishedAt = nil
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			job = &existing
		}

		return tx.Model(&database.MediaAsset{}).
			Where("id = ?", assetID).
			Updates(map[string]interface{}{
				"status":        database.AssetStatusProcessing,
				"error_message": "",
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkJobDone finishes a job row without touching the asset. Used by the
// idempotent skip when the asset is already ready.
func (s *Store) MarkJobDone(ctx context.Context, job *database.TranscodeJob) error {
	if job.Status == database.JobStatusDone {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&database.TranscodeJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":      database.JobStatusDone,
			"finished_at": now,
		}).Error
}

// ReadyResult carries the derived fields committed when a pipeline run
// succeeds.
type ReadyResult struct {
	OutputKey   string
	PosterKey   string
	DurationSec float64
	Width       int
	Height      int
	Codec       string
	BitrateKbps int
	Logs        string
}

// CommitReady is the success-side transition: in one transaction it moves the
// asset to ready with its derived fields and the job to done with a finish
// timestamp and diagnostic logs.
func (s *Store) CommitReady(ctx context.Context, assetID, jobID string, res ReadyResult) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.MediaAsset{}).
			Where("id = ?", assetID).
			Updates(map[string]interface{}{
				"status":       database.AssetStatusReady,
				"output_key":   res.OutputKey,
				"poster_key":   res.PosterKey,
				"duration_sec": res.DurationSec,
				"width":        res.Width,
				"height":       res.Height,
				"codec":        res.Codec,
				"bitrate_kbps": res.BitrateKbps,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&database.TranscodeJob{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{
				"status":      database.JobStatusDone,
				"finished_at": now,
				"logs":        res.Logs,
			}).Error
	})
}

// MarkFailure is the failure-side transition: job to failed with the
// truncated error text, asset to failed with the same message. Callers treat
// it as best-effort; a failure here must never mask the pipeline error.
func (s *Store) MarkFailure(ctx context.Context, assetID, jobID, msg string) error {
	now := time.Now().UTC()
	msg = xerrors.Truncate(msg, database.ErrorMessageLimit)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if jobID != "" {
			failLogs := database.TranscodeJob{}
			if err := failLogs.SetLogs(map[string]string{"error": msg}); err != nil {
				return err
			}
			if err := tx.Model(&database.TranscodeJob{}).
				Where("id = ?", jobID).
				Updates(map[string]interface{}{
					"status":      database.JobStatusFailed,
					"finished_at": now,
					"logs":        failLogs.Logs,
				}).Error; err != nil {
				return err
			}
		}
		if assetID == "" {
			return nil
		}
		return tx.Model(&database.MediaAsset{}).
			Where("id = ?", assetID).
			Updates(map[string]interface{}{
				"status":        database.AssetStatusFailed,
				"error_message": msg,
			}).Error
	})
}

// RecentJobs retrieves the latest attempt rows, newest first. Used by the
// operational CLI.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]*database.TranscodeJob, error) {
	var jobs []*database.TranscodeJob
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
