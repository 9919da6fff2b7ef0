// Package worker contains the transcode orchestrator: the per-job state
// machine that ties download, probe, rendition encoding, poster extraction,
// upload and the final transactional commit together under one scoped
// scratch-directory lifetime.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/clipstream/transcoder/internal/config"
	"github.com/clipstream/transcoder/internal/database"
	"github.com/clipstream/transcoder/internal/ffmpeg"
	"github.com/clipstream/transcoder/internal/queue"
	"github.com/clipstream/transcoder/internal/repository"
	"github.com/clipstream/transcoder/internal/storage"
	"github.com/clipstream/transcoder/internal/xerrors"
)

// DiskFreeFunc reports the free bytes on the volume holding path. Replaced in
// tests.
type DiskFreeFunc func(path string) (uint64, error)

// GopsutilDiskFree is the production DiskFreeFunc.
func GopsutilDiskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Orchestrator processes one transcode job end to end.
type Orchestrator struct {
	store    *repository.Store
	objects  storage.ObjectStore
	policy   *storage.Policy
	prober   *ffmpeg.Prober
	encoder  *ffmpeg.Transcoder
	poster   *ffmpeg.PosterExtractor
	cfg      *config.Config
	diskFree DiskFreeFunc
	logger   hclog.Logger
}

// NewOrchestrator wires the pipeline's collaborators together.
func NewOrchestrator(
	store *repository.Store,
	objects storage.ObjectStore,
	policy *storage.Policy,
	prober *ffmpeg.Prober,
	encoder *ffmpeg.Transcoder,
	poster *ffmpeg.PosterExtractor,
	cfg *config.Config,
	logger hclog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		objects:  objects,
		policy:   policy,
		prober:   prober,
		encoder:  encoder,
		poster:   poster,
		cfg:      cfg,
		diskFree: GopsutilDiskFree,
		logger:   logger,
	}
}

// SetDiskFree overrides the disk headroom probe. Test hook.
func (o *Orchestrator) SetDiskFree(fn DiskFreeFunc) {
	o.diskFree = fn
}

// jobLogs is the diagnostic payload persisted on a finished attempt.
type jobLogs struct {
	Probe      *ffmpeg.ProbeResult `json:"probe"`
	Variants   []variantLog        `json:"variants"`
	TotalBytes int64               `json:"total_bytes"`
}

type variantLog struct {
	Name     string `json:"name"`
	Segments int    `json:"segments"`
	Bytes    int64  `json:"bytes"`
}

// Process runs one job. The returned error classification steers the queue:
// permanent errors fail the message terminally, anything else is redelivered
// with backoff. Asset and job rows are marked failed best-effort before the
// original error is returned unmodified.
func (o *Orchestrator) Process(ctx context.Context, payload queue.Payload) error {
	if payload.MediaAssetID == "" {
		return xerrors.Permanentf("claim", "job payload missing mediaAssetId")
	}
	logger := o.logger.With("asset_id", payload.MediaAssetID, "attempt", payload.Attempt)

	asset, err := o.store.GetAsset(ctx, payload.MediaAssetID)
	if err != nil {
		if err == xerrors.ErrAssetNotFound {
			return xerrors.Permanent("claim", err)
		}
		return xerrors.Transient("claim", err)
	}
	if asset.Type != database.MediaTypeVideo {
		return xerrors.Permanentf("claim", "unsupported media type %q", asset.Type)
	}

	// Idempotent skip: a redelivered job for an already-ready asset is a
	// no-op. No storage access happens past this point for such assets.
	if asset.IsReady() {
		logger.Info("asset already ready, skipping")
		job, err := o.store.GetJob(ctx, asset.ID, payload.Attempt)
		if err != nil {
			return xerrors.Transient("claim", err)
		}
		if job != nil {
			if err := o.store.MarkJobDone(ctx, job); err != nil {
				return xerrors.Transient("claim", err)
			}
		}
		return nil
	}

	job, err := o.store.ClaimProcessing(ctx, uuid.NewString(), asset.ID, payload.Attempt)
	if err != nil {
		return xerrors.Transient("claim", err)
	}
	logger = logger.With("job_id", job.ID)
	logger.Info("job claimed", "source_key", asset.SourceKey)

	runErr := o.run(ctx, asset, job, logger)
	if runErr != nil {
		// Best-effort failure bookkeeping; the original error always wins.
		msg := xerrors.Truncate(runErr.Error(), database.ErrorMessageLimit)
		if err := o.store.MarkFailure(ctx, asset.ID, job.ID, msg); err != nil {
			logger.Error("failed to persist failure state", "error", err)
		}
		logger.Error("job failed", "class", xerrors.GetClass(runErr), "error", runErr)
		return runErr
	}

	logger.Info("job done")
	return nil
}

// run executes the fallible middle of the pipeline inside one scratch
// lifetime. The scratch directory is removed on every exit path; a cleanup
// failure is logged but never masks the job outcome.
func (o *Orchestrator) run(ctx context.Context, asset *database.MediaAsset, job *database.TranscodeJob, logger hclog.Logger) error {
	scratch, err := os.MkdirTemp(o.cfg.ScratchDir, "transcode-"+asset.ID+"-*")
	if err != nil {
		return xerrors.Transient("scratch", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("scratch cleanup failed", "dir", scratch, "error", err)
		}
	}()

	if err := o.checkHeadroom(scratch); err != nil {
		return err
	}

	// Download the source next to the outputs it will produce.
	sourcePath := filepath.Join(scratch, "source"+filepath.Ext(asset.SourceKey))
	bucket := o.policy.BucketFor(asset.Visibility)
	if err := o.objects.Download(ctx, bucket, asset.SourceKey, sourcePath); err != nil {
		return xerrors.Transient("download", err)
	}

	probe, err := o.prober.Probe(ctx, sourcePath)
	if err != nil {
		return err
	}

	hlsDir := filepath.Join(scratch, "hls")
	if err := os.MkdirAll(hlsDir, 0o755); err != nil {
		return xerrors.Transient("transcode", err)
	}
	variants, err := o.encoder.TranscodeAll(ctx, sourcePath, hlsDir, o.cfg.Variants, probe)
	if err != nil {
		return err
	}
	masterPath, err := o.encoder.WriteMasterManifest(hlsDir, o.cfg.MasterPlaylistName, variants)
	if err != nil {
		return xerrors.Transient("transcode", err)
	}

	posterPath := filepath.Join(scratch, "poster.jpg")
	if err := o.poster.Extract(ctx, sourcePath, posterPath, probe.DurationSec, o.cfg.PosterTimeFraction); err != nil {
		return xerrors.Transient("poster", err)
	}

	totalBytes, err := o.uploadArtifacts(ctx, asset, masterPath, posterPath, variants)
	if err != nil {
		return xerrors.Transient("upload", err)
	}

	logs := jobLogs{Probe: probe, TotalBytes: totalBytes}
	for _, v := range variants {
		logs.Variants = append(logs.Variants, variantLog{
			Name:     v.Variant.Name,
			Segments: len(v.SegmentPaths),
			Bytes:    v.Bytes,
		})
	}
	diag := database.TranscodeJob{}
	if err := diag.SetLogs(logs); err != nil {
		return xerrors.Transient("commit", err)
	}

	err = o.store.CommitReady(ctx, asset.ID, job.ID, repository.ReadyResult{
		OutputKey:   storage.MasterKey(asset.ID, o.cfg.MasterPlaylistName),
		PosterKey:   storage.PosterKey(asset.ID),
		DurationSec: probe.DurationSec,
		Width:       probe.Width,
		Height:      probe.Height,
		Codec:       probe.VideoCodec,
		BitrateKbps: probe.BitrateKbps,
		Logs:        diag.Logs,
	})
	if err != nil {
		return xerrors.Transient("commit", err)
	}
	return nil
}

// checkHeadroom refuses the job while the scratch volume is short on space.
// Transient: another worker finishing frees the disk.
func (o *Orchestrator) checkHeadroom(scratch string) error {
	free, err := o.diskFree(scratch)
	if err != nil {
		return xerrors.Transient("scratch", err)
	}
	minFree := uint64(o.cfg.ScratchMinFreeMB) * 1024 * 1024
	if free < minFree {
		return xerrors.Transient("scratch",
			fmt.Errorf("insufficient scratch space: %d bytes free, need %d", free, minFree))
	}
	return nil
}

// uploadArtifacts ships the whole HLS package and the poster, each object
// with its artifact-specific content type and cache policy.
func (o *Orchestrator) uploadArtifacts(ctx context.Context, asset *database.MediaAsset, masterPath, posterPath string, variants []ffmpeg.VariantResult) (int64, error) {
	bucket := o.policy.BucketFor(asset.Visibility)
	var total int64

	upload := func(key, path, contentType, cacheControl string) error {
		if err := o.objects.Upload(ctx, bucket, key, path, contentType, cacheControl); err != nil {
			return err
		}
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
		return nil
	}

	if err := upload(
		storage.MasterKey(asset.ID, o.cfg.MasterPlaylistName), masterPath,
		storage.ContentTypeManifest, o.policy.ManifestCacheControl(),
	); err != nil {
		return total, err
	}

	for _, v := range variants {
		if err := upload(
			storage.VariantPlaylistKey(asset.ID, v.Variant.Name), v.PlaylistPath,
			storage.ContentTypeManifest, o.policy.ManifestCacheControl(),
		); err != nil {
			return total, err
		}
		for _, segment := range v.SegmentPaths {
			if err := upload(
				storage.SegmentKey(asset.ID, v.Variant.Name, filepath.Base(segment)), segment,
				storage.ContentTypeSegment, o.policy.SegmentCacheControl(),
			); err != nil {
				return total, err
			}
		}
	}

	if err := upload(
		storage.PosterKey(asset.ID), posterPath,
		storage.ContentTypePoster, o.policy.SegmentCacheControl(),
	); err != nil {
		return total, err
	}
	return total, nil
}
