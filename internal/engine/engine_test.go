package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"streamsaver/internal/engine"
	"streamsaver/internal/engine/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleInfo = `{
  "title": "Big Buck Bunny",
  "description": "A short film",
  "duration": 596.5,
  "thumbnail": "https://i.ytimg.com/vi/abc/hq.jpg",
  "tags": ["animation", "blender"],
  "formats": [
    {"format_id": "140", "ext": "m4a", "height": null, "filesize": 9000000, "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5},
    {"format_id": "137", "ext": "mp4", "height": 1080, "filesize": 500000000, "vcodec": "avc1.640028", "acodec": "none"},
    {"format_id": "248", "ext": "webm", "height": 1080, "filesize": null, "filesize_approx": 420000000, "vcodec": "vp9", "acodec": "none"},
    {"format_id": "sb0", "ext": "mhtml", "height": 90, "vcodec": "none", "acodec": "none"}
  ]
}`

func TestEngine_Info(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().
		Output(gomock.Any(), []string{"-J", "--no-playlist", "--no-warnings", "https://youtu.be/abc"}).
		Return([]byte(sampleInfo), nil)

	eng := engine.New(runner, discardLogger())
	info, err := eng.Info(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, "Big Buck Bunny", info.Title)
	assert.Equal(t, int64(596), info.DurationSeconds)
	assert.Equal(t, []string{"animation", "blender"}, info.Tags)
	require.Len(t, info.Formats, 4)

	audio := info.Formats[0]
	assert.True(t, audio.IsAudioOnly())
	assert.Equal(t, 0, audio.Height)
	require.NotNil(t, audio.AverageBitrate)
	assert.InDelta(t, 129.5, *audio.AverageBitrate, 0.001)

	video := info.Formats[1]
	assert.False(t, video.IsAudioOnly())
	assert.Nil(t, video.AudioCodec)
	require.NotNil(t, video.FileSizeBytes)
	assert.Equal(t, int64(500000000), *video.FileSizeBytes)

	approx := info.Formats[2]
	require.NotNil(t, approx.FileSizeBytes)
	assert.Equal(t, int64(420000000), *approx.FileSizeBytes)

	storyboard := info.Formats[3]
	assert.Nil(t, storyboard.AudioCodec)
	assert.Nil(t, storyboard.VideoCodec)
	assert.Nil(t, storyboard.FileSizeBytes)
}

func TestEngine_InfoNoTags(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Output(gomock.Any(), gomock.Any()).Return([]byte(`{"title":"x","formats":[]}`), nil)

	info, err := engine.New(runner, discardLogger()).Info(context.Background(), "https://example.com/v")
	require.NoError(t, err)
	assert.NotNil(t, info.Tags)
	assert.Empty(t, info.Formats)
}

func TestEngine_InfoFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	engineErr := fmt.Errorf("%w: ERROR: [youtube] abc: Video unavailable", engine.ErrEngineFailed)
	runner.EXPECT().Output(gomock.Any(), gomock.Any()).Return(nil, engineErr)

	_, err := engine.New(runner, discardLogger()).Info(context.Background(), "https://youtu.be/abc")
	require.ErrorIs(t, err, engine.ErrEngineFailed)
	assert.Contains(t, err.Error(), "Video unavailable")
}

func TestEngine_InfoMalformed(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Output(gomock.Any(), gomock.Any()).Return([]byte("not json"), nil)

	_, err := engine.New(runner, discardLogger()).Info(context.Background(), "https://youtu.be/abc")
	assert.ErrorIs(t, err, engine.ErrEngineFailed)
}

func TestEngine_ExecuteForwardsProgressInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	lines := []string{
		"[youtube] abc: Downloading webpage",
		"[download]  10.0% of 10.00MiB at 1.00MiB/s ETA 00:09",
		"[download]  55.5% of 10.00MiB at 1.00MiB/s ETA 00:04",
		"[download] 100% of 10.00MiB in 00:00:10",
	}
	runner.EXPECT().
		Stream(gomock.Any(), []string{"-o", "out.mp4", "url"}, gomock.Any()).
		DoAndReturn(func(ctx context.Context, args []string, onLine func(string)) error {
			for _, l := range lines {
				onLine(l)
			}
			return nil
		})

	type reading struct {
		percent float64
		eta     int64
		line    string
	}
	var got []reading
	err := engine.New(runner, discardLogger()).Execute(context.Background(), []string{"-o", "out.mp4", "url"},
		func(percent float64, eta int64, line string) {
			got = append(got, reading{percent, eta, line})
		})
	require.NoError(t, err)

	require.Len(t, got, 4)
	for i, r := range got {
		assert.Equal(t, lines[i], r.line)
	}
	assert.Equal(t, reading{0, -1, lines[0]}, got[0])
	assert.Equal(t, int64(9), got[1].eta)
	assert.InDelta(t, 55.5, got[2].percent, 0.001)
	assert.InDelta(t, 100, got[3].percent, 0.001)
}

func TestEngine_ExecuteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Stream(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("exit status 1"))

	err := engine.New(runner, discardLogger()).Execute(context.Background(), nil, nil)
	assert.EqualError(t, err, "exit status 1")
}

func TestEngine_Version(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Output(gomock.Any(), []string{"--version"}).Return([]byte("2025.01.15\n"), nil)

	v, err := engine.New(runner, discardLogger()).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025.01.15", v)
}
