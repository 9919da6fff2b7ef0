package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/clipstream/transcoder/internal/xerrors"
)

// Prober extracts media metadata with ffprobe.
type Prober struct {
	runner      CommandRunner
	ffprobePath string
	logger      hclog.Logger
}

// NewProber creates a new media prober.
func NewProber(runner CommandRunner, ffprobePath string, logger hclog.Logger) *Prober {
	return &Prober{
		runner:      runner,
		ffprobePath: ffprobePath,
		logger:      logger,
	}
}

// ProbeResult contains the source metadata the pipeline derives its output
// from. Dimensions and duration always describe the source, never a
// rendition.
type ProbeResult struct {
	DurationSec float64 `json:"duration_sec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	VideoCodec  string  `json:"video_codec"`
	AudioCodec  string  `json:"audio_codec,omitempty"`
	BitrateKbps int     `json:"bitrate_kbps,omitempty"`
}

// probeOutput mirrors the ffprobe JSON shape. Numeric fields arrive as
// strings.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
		BitRate   string `json:"bit_rate"`
	} `json:"streams"`
}

// Probe runs ffprobe on a local file and validates the metadata the pipeline
// depends on. Missing video stream, duration or dimensions are permanent
// failures; a broken ffprobe invocation stays retryable.
func (p *Prober) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	out, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("ffprobe: failed to parse output: %w", err)
	}

	var video, audio *struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
		BitRate   string `json:"bit_rate"`
	}
	for i := range parsed.Streams {
		s := &parsed.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}
	if video == nil {
		return nil, xerrors.Permanent("probe", xerrors.ErrNoVideoStream)
	}

	duration := parseFloat(parsed.Format.Duration)
	if duration <= 0 {
		duration = parseFloat(video.Duration)
	}
	if duration <= 0 {
		return nil, xerrors.Permanentf("probe", "missing or invalid duration")
	}

	if video.Width <= 0 || video.Height <= 0 {
		return nil, xerrors.Permanentf("probe", "missing video dimensions (%dx%d)", video.Width, video.Height)
	}

	result := &ProbeResult{
		DurationSec: duration,
		Width:       video.Width,
		Height:      video.Height,
		VideoCodec:  video.CodecName,
	}
	if audio != nil {
		result.AudioCodec = audio.CodecName
	}

	// Bitrate is optional: container first, video stream as fallback.
	if bps := parseInt(parsed.Format.BitRate); bps > 0 {
		result.BitrateKbps = bps / 1000
	} else if bps := parseInt(video.BitRate); bps > 0 {
		result.BitrateKbps = bps / 1000
	}

	p.logger.Debug("probed source",
		"input", inputPath,
		"duration_sec", result.DurationSec,
		"resolution", fmt.Sprintf("%dx%d", result.Width, result.Height),
		"video_codec", result.VideoCodec,
		"audio_codec", result.AudioCodec,
		"bitrate_kbps", result.BitrateKbps,
	)
	return result, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
