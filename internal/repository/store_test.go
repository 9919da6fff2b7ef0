package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/transcoder/internal/database"
	"github.com/clipstream/transcoder/internal/xerrors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewStore(db)
}

func seedVideo(t *testing.T, s *Store) *database.MediaAsset {
	t.Helper()
	asset := &database.MediaAsset{
		ID:         uuid.NewString(),
		Type:       database.MediaTypeVideo,
		Status:     database.AssetStatusUploaded,
		SourceKey:  "uploads/clip.mp4",
		Visibility: database.VisibilityPrivate,
	}
	require.NoError(t, s.CreateAsset(context.Background(), asset))
	return asset
}

func TestGetAsset_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetAsset(context.Background(), "missing")
	assert.ErrorIs(t, err, xerrors.ErrAssetNotFound)
}

func TestClaimProcessing_CreatesAttemptRow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	asset := seedVideo(t, s)

	jobID := uuid.NewString()
	job, err := s.ClaimProcessing(ctx, jobID, asset.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, database.JobStatusProcessing, job.Status)
	require.NotNil(t, job.StartedAt)

	stored, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, database.AssetStatusProcessing, stored.Status)
}

func TestClaimProcessing_RedeliveryReusesRow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	asset := seedVideo(t, s)

	first, err := s.ClaimProcessing(ctx, uuid.NewString(), asset.ID, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailure(ctx, asset.ID, first.ID, "ffmpeg crashed"))

	// A redelivery of the same attempt reuses the row, resets the finish
	// timestamp and clears the asset error.
	second, err := s.ClaimProcessing(ctx, uuid.NewString(), asset.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, database.JobStatusProcessing, second.Status)
	assert.Nil(t, second.FinishedAt)

	stored, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, database.AssetStatusProcessing, stored.Status)
	assert.Empty(t, stored.ErrorMessage)

	// A fresh enqueue bumps the attempt and gets its own row.
	third, err := s.ClaimProcessing(ctx, uuid.NewString(), asset.ID, 2)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCommitReady(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	asset := seedVideo(t, s)
	job, err := s.ClaimProcessing(ctx, uuid.NewString(), asset.ID, 1)
	require.NoError(t, err)

	err = s.CommitReady(ctx, asset.ID, job.ID, ReadyResult{
		OutputKey:   "hls/" + asset.ID + "/master.m3u8",
		PosterKey:   "posters/" + asset.ID + ".jpg",
		DurationSec: 30.042,
		Width:       1280,
		Height:      720,
		Codec:       "h264",
		BitrateKbps: 4521,
		Logs:        `{"total_bytes":12345}`,
	})
	require.NoError(t, err)

	stored, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReady())
	assert.Equal(t, "hls/"+asset.ID+"/master.m3u8", stored.OutputKey)
	assert.Equal(t, "posters/"+asset.ID+".jpg", stored.PosterKey)
	assert.InDelta(t, 30.042, stored.DurationSec, 0.001)
	assert.Equal(t, 1280, stored.Width)
	assert.Equal(t, "h264", stored.Codec)

	finished, err := s.GetJob(ctx, asset.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusDone, finished.Status)
	assert.NotNil(t, finished.FinishedAt)
	assert.Contains(t, finished.Logs, "total_bytes")
}

func TestMarkFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	asset := seedVideo(t, s)
	job, err := s.ClaimProcessing(ctx, uuid.NewString(), asset.ID, 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailure(ctx, asset.ID, job.ID, "probe: no video stream found"))

	stored, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, database.AssetStatusFailed, stored.Status)
	assert.Equal(t, "probe: no video stream found", stored.ErrorMessage)

	failed, err := s.GetJob(ctx, asset.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusFailed, failed.Status)
	assert.NotNil(t, failed.FinishedAt)
	assert.Contains(t, failed.Logs, "no video stream found")
}

func TestMarkFailure_TruncatesLongMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	asset := seedVideo(t, s)
	job, err := s.ClaimProcessing(ctx, uuid.NewString(), asset.ID, 1)
	require.NoError(t, err)

	long := strings.Repeat("x", 2000)
	require.NoError(t, s.MarkFailure(ctx, asset.ID, job.ID, long))

	stored, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ErrorMessage, database.ErrorMessageLimit)
}

func TestGetJob_AbsentIsNil(t *testing.T) {
	s := testStore(t)

	job, err := s.GetJob(context.Background(), "nobody", 1)
	require.NoError(t, err)
	assert.Nil(t, job)
}
