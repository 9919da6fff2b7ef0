package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/clipstream/transcoder/internal/config"
	"github.com/clipstream/transcoder/internal/xerrors"
)

// Codec tags advertised in the master manifest. Every rendition is encoded
// H.264 main profile with AAC-LC audio.
const masterCodecTags = `avc1.4d401f,mp4a.40.2`

// Transcoder produces a segmented HLS package: one sub-directory per
// configured variant plus a synthesized master manifest.
type Transcoder struct {
	runner         CommandRunner
	ffmpegPath     string
	segmentSeconds int
	logger         hclog.Logger
}

// NewTranscoder creates an HLS transcoder.
func NewTranscoder(runner CommandRunner, ffmpegPath string, segmentSeconds int, logger hclog.Logger) *Transcoder {
	return &Transcoder{
		runner:         runner,
		ffmpegPath:     ffmpegPath,
		segmentSeconds: segmentSeconds,
		logger:         logger,
	}
}

// VariantResult describes the on-disk output of one rendition encode.
type VariantResult struct {
	Variant      config.VariantConfig
	Width        int // scaled output width
	Height       int // scaled output height
	PlaylistPath string
	SegmentPaths []string // lexical filename order
	Bytes        int64    // playlist + segments
}

// TranscodeAll encodes every configured variant in order and verifies each
// produced a playlist and at least one segment. A missing output for any
// variant is a permanent failure raised before any upload happens.
func (t *Transcoder) TranscodeAll(ctx context.Context, inputPath, outputDir string, variants []config.VariantConfig, source *ProbeResult) ([]VariantResult, error) {
	results := make([]VariantResult, 0, len(variants))
	for _, variant := range variants {
		res, err := t.transcodeVariant(ctx, inputPath, outputDir, variant, source)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", variant.Name, err)
		}
		results = append(results, *res)
	}
	if len(results) != len(variants) {
		return nil, xerrors.Permanentf("transcode", "produced %d variants, expected %d", len(results), len(variants))
	}
	return results, nil
}

func (t *Transcoder) transcodeVariant(ctx context.Context, inputPath, outputDir string, variant config.VariantConfig, source *ProbeResult) (*VariantResult, error) {
	variantDir := filepath.Join(outputDir, variant.Name)
	if err := os.MkdirAll(variantDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create variant dir: %w", err)
	}

	width, height := FitWithin(source.Width, source.Height, variant.Width, variant.Height)
	playlistPath := filepath.Join(variantDir, variant.Name+".m3u8")
	args := t.buildVariantArgs(inputPath, variantDir, playlistPath, variant, width, height)

	t.logger.Info("encoding variant",
		"variant", variant.Name,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"video_kbps", variant.VideoBitrateKbps,
		"audio_kbps", variant.AudioBitrateKbps,
	)

	if _, err := t.runner.Run(ctx, t.ffmpegPath, args...); err != nil {
		return nil, err
	}

	segments, bytes, err := collectSegments(variantDir)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, xerrors.Permanentf("transcode", "no segments produced in %s", variantDir)
	}
	info, err := os.Stat(playlistPath)
	if err != nil {
		return nil, xerrors.Permanentf("transcode", "variant playlist missing: %v", err)
	}

	return &VariantResult{
		Variant:      variant,
		Width:        width,
		Height:       height,
		PlaylistPath: playlistPath,
		SegmentPaths: segments,
		Bytes:        bytes + info.Size(),
	}, nil
}

// buildVariantArgs assembles the ffmpeg invocation for one rendition:
// aspect-preserving scale, capped-bitrate H.264, stereo 48kHz AAC, VOD
// playlist with independent segments and an unbounded window.
func (t *Transcoder) buildVariantArgs(inputPath, variantDir, playlistPath string, variant config.VariantConfig, width, height int) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-c:v", "libx264",
		"-b:v", fmt.Sprintf("%dk", variant.VideoBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", variant.VideoBitrateKbps*12/10),
		"-bufsize", fmt.Sprintf("%dk", variant.VideoBitrateKbps*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", variant.AudioBitrateKbps),
		"-ac", "2",
		"-ar", "48000",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", t.segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(variantDir, variant.Name+"_%03d.ts"),
		playlistPath,
	}
}

// FitWithin scales (srcW, srcH) to fit inside (boxW, boxH) preserving aspect
// ratio, rounding both dimensions down to the nearest even number.
func FitWithin(srcW, srcH, boxW, boxH int) (int, int) {
	scale := float64(boxW) / float64(srcW)
	if s := float64(boxH) / float64(srcH); s < scale {
		scale = s
	}
	if scale > 1 {
		scale = 1 // never upscale
	}
	w := evenFloor(int(float64(srcW) * scale))
	h := evenFloor(int(float64(srcH) * scale))
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return w, h
}

func evenFloor(n int) int {
	return n - n%2
}

// collectSegments lists the .ts files of one variant directory in lexical
// order.
func collectSegments(dir string) ([]string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read variant dir: %w", err)
	}
	var segments []string
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, 0, err
		}
		total += info.Size()
		segments = append(segments, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(segments)
	return segments, total, nil
}

// WriteMasterManifest synthesizes the adaptive-streaming master playlist and
// writes it into outputDir under name. Stream entries appear in the same
// order as the configured variants, never re-sorted by bandwidth.
func (t *Transcoder) WriteMasterManifest(outputDir, name string, results []VariantResult) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, res := range results {
		bandwidth := (res.Variant.VideoBitrateKbps + res.Variant.AudioBitrateKbps) * 1000
		average := bandwidth * 95 / 100
		fmt.Fprintf(&b,
			"#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n",
			bandwidth, average, res.Variant.Width, res.Variant.Height, masterCodecTags)
		fmt.Fprintf(&b, "%s/%s.m3u8\n", res.Variant.Name, res.Variant.Name)
	}

	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write master manifest: %w", err)
	}
	return path, nil
}
