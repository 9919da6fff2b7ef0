package ffmpeg

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/transcoder/internal/xerrors"
)

// fakeRunner substitutes the real binaries. Shared by the prober, HLS and
// poster tests in this package.
type fakeRunner struct {
	out   []byte
	err   error
	onRun func(name string, args []string) error
	calls [][]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.onRun != nil {
		if err := r.onRun(name, args); err != nil {
			return nil, err
		}
	}
	return r.out, r.err
}

// argValue returns the argument following flag, or "".
func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

const probeFull = `{
	"format": {"duration": "30.042000", "bit_rate": "4521000"},
	"streams": [
		{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "bit_rate": "4200000"},
		{"codec_type": "audio", "codec_name": "aac", "bit_rate": "128000"}
	]
}`

func TestProbe_FullMetadata(t *testing.T) {
	runner := &fakeRunner{out: []byte(probeFull)}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	res, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)

	assert.InDelta(t, 30.042, res.DurationSec, 0.001)
	assert.Equal(t, 1280, res.Width)
	assert.Equal(t, 720, res.Height)
	assert.Equal(t, "h264", res.VideoCodec)
	assert.Equal(t, "aac", res.AudioCodec)
	assert.Equal(t, 4521, res.BitrateKbps, "container bitrate wins")

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "ffprobe", call[0])
	assert.Contains(t, call, "-show_format")
	assert.Contains(t, call, "-show_streams")
	assert.Equal(t, "/tmp/in.mp4", call[len(call)-1])
}

func TestProbe_NoVideoStream(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{
		"format": {"duration": "12.0"},
		"streams": [{"codec_type": "audio", "codec_name": "aac"}]
	}`)}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	_, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrNoVideoStream)
	assert.True(t, xerrors.IsPermanent(err))
}

func TestProbe_DurationFallsBackToVideoStream(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{
		"format": {},
		"streams": [{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360, "duration": "8.5"}]
	}`)}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	res, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 8.5, res.DurationSec, 0.001)
}

func TestProbe_MissingDuration(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{
		"format": {},
		"streams": [{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360}]
	}`)}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	_, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.Error(t, err)
	assert.True(t, xerrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "duration")
}

func TestProbe_MissingDimensions(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{
		"format": {"duration": "30.0"},
		"streams": [{"codec_type": "video", "codec_name": "h264"}]
	}`)}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	_, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.Error(t, err)
	assert.True(t, xerrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "dimensions")
}

func TestProbe_StreamBitrateFallback(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{
		"format": {"duration": "30.0"},
		"streams": [{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360, "bit_rate": "900000"}]
	}`)}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	res, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 900, res.BitrateKbps)
}

func TestProbe_SubprocessFailureStaysTransient(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ffprobe failed: exit status 1")}
	prober := NewProber(runner, "ffprobe", hclog.NewNullLogger())

	_, err := prober.Probe(context.Background(), "/tmp/in.mp4")
	require.Error(t, err)
	assert.False(t, xerrors.IsPermanent(err))
}
