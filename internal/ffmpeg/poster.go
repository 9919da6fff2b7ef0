package ffmpeg

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-hclog"
)

// PosterExtractor captures a single representative JPEG frame from a video.
type PosterExtractor struct {
	runner     CommandRunner
	ffmpegPath string
	logger     hclog.Logger
}

// NewPosterExtractor creates a poster extractor.
func NewPosterExtractor(runner CommandRunner, ffmpegPath string, logger hclog.Logger) *PosterExtractor {
	return &PosterExtractor{
		runner:     runner,
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
}

// PosterTimestamp computes the capture point for a poster frame. The raw
// target is duration*fraction, falling back to the midpoint when that is not
// a usable positive number, clamped so the result always lands strictly
// inside the video.
func PosterTimestamp(durationSec, fraction float64) float64 {
	t := durationSec * fraction
	if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
		t = durationSec / 2
	}

	lo := math.Min(1, durationSec-1)
	hi := math.Max(durationSec-1, 1)
	if t < lo {
		t = lo
	}
	if t > hi {
		t = hi
	}
	if t >= durationSec {
		t = durationSec - 0.1
	}
	if t <= 0 {
		// Sub-second inputs can clamp past zero; the midpoint is always valid.
		t = durationSec / 2
	}
	return t
}

// Extract captures one frame at the computed timestamp into outputPath as a
// JPEG. A non-zero ffmpeg exit fails the step.
func (p *PosterExtractor) Extract(ctx context.Context, inputPath, outputPath string, durationSec, fraction float64) error {
	ts := PosterTimestamp(durationSec, fraction)
	args := []string{
		"-y",
		"-hide_banner",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}

	p.logger.Debug("extracting poster", "input", inputPath, "timestamp_sec", ts)
	if _, err := p.runner.Run(ctx, p.ffmpegPath, args...); err != nil {
		return fmt.Errorf("poster extraction: %w", err)
	}
	return nil
}
