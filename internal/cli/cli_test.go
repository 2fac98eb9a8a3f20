package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsaver/internal/dispatch"
	"streamsaver/internal/events"
	"streamsaver/internal/extract"
	"streamsaver/pkg/models"
)

type fakeRuntime struct {
	bus      *events.Bus
	commands []dispatch.Command
	handle   func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error)
	served   bool
	waited   bool
	closed   bool
}

func (f *fakeRuntime) Dispatch(ctx context.Context, cmd dispatch.Command) (any, error) {
	f.commands = append(f.commands, cmd)
	return f.handle(ctx, f.bus, cmd)
}

func (f *fakeRuntime) Events() *events.Bus { return f.bus }

func (f *fakeRuntime) Serve(ctx context.Context) error {
	f.served = true
	return nil
}

func (f *fakeRuntime) Wait() { f.waited = true }

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func newFakeRuntime(handle func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error)) *fakeRuntime {
	return &fakeRuntime{
		bus:    events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil))),
		handle: handle,
	}
}

// run executes args against rt and returns its output, the settings the
// factory saw and the error
func run(t *testing.T, rt *fakeRuntime, args ...string) (string, string, Settings, error) {
	t.Helper()
	var settings Settings
	c := NewCLI("1.0.0", func(ctx context.Context, s Settings) (Runtime, error) {
		settings = s
		return rt, nil
	})

	var stdout, stderr bytes.Buffer
	root := c.Command()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), settings, err
}

func args(t *testing.T, cmd dispatch.Command) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(cmd.Args, &m))
	return m
}

func TestNewCLI(t *testing.T) {
	cli := NewCLI("1.0.0", nil)
	require.NotNil(t, cli)
	assert.Equal(t, "1.0.0", cli.version)

	names := []string{}
	for _, c := range cli.Command().Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "analyze", "download", "update-engine", "extract", "version"})
}

func TestVersion(t *testing.T) {
	stdout, _, _, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "streamsaver version 1.0.0\n", stdout)

	stdout, _, _, err = run(t, nil, "--version")
	require.NoError(t, err)
	assert.Equal(t, "streamsaver 1.0.0\n", stdout)
}

func TestAnalyze(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		return &dispatch.AnalyzeReply{
			Type:     "video",
			Title:    "My Clip",
			Duration: 90,
			Options: []models.FormatOption{
				{ID: "140", Label: "Audio Only (MP3)", SizeDisplay: "3MB", Extension: "mp3"},
				{ID: "137", Label: "1080p", SizeDisplay: "476MB", Extension: "mp4"},
			},
		}, nil
	})

	stdout, _, _, err := run(t, rt, "analyze", "https://example.com/v")
	require.NoError(t, err)

	require.Len(t, rt.commands, 1)
	assert.Equal(t, dispatch.MethodAnalyze, rt.commands[0].Method)
	assert.Equal(t, "https://example.com/v", args(t, rt.commands[0])["url"])
	assert.Contains(t, stdout, "My Clip")
	assert.Contains(t, stdout, "Duration: 1m30s")
	assert.Contains(t, stdout, "137  1080p")
	assert.True(t, rt.closed)
}

func TestAnalyze_JSON(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		return &dispatch.AnalyzeReply{Type: "video", Title: "T", Tags: []string{}, Options: []models.FormatOption{}}, nil
	})

	stdout, _, _, err := run(t, rt, "--json", "analyze", "https://example.com/v")
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &reply))
	assert.Equal(t, "video", reply["type"])
}

func TestAnalyze_Error(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		return nil, &dispatch.Error{Code: dispatch.CodeEngineNotReady, Message: "Download engine is still initializing."}
	})

	_, _, _, err := run(t, rt, "analyze", "https://example.com/v")
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))
	assert.True(t, rt.closed)

	_, _, _, err = run(t, rt, "analyze")
	assert.Error(t, err, "url is required")
}

func TestDownload(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		bus.Publish(ctx, events.NewProgress(models.ProgressEvent{DownloadID: "d", PercentComplete: 12.5, EstimatedTimeRemaining: 83}))
		bus.Publish(ctx, events.NewProgress(models.ProgressEvent{DownloadID: "d", PercentComplete: 100, EstimatedTimeRemaining: -1}))
		bus.Publish(ctx, events.NewSuccess("d", "/out/My_Video_.mp4", "https://example.com/v"))
		return &dispatch.DownloadReply{Path: "/out/My_Video_.mp4", DownloadID: "d"}, nil
	})

	stdout, stderr, _, err := run(t, rt, "download", "https://example.com/v", "-f", "137", "--title", "My Video!")
	require.NoError(t, err)

	a := args(t, rt.commands[0])
	assert.Equal(t, dispatch.MethodDownloadVideo, rt.commands[0].Method)
	assert.Equal(t, "137", a["formatId"])
	assert.Equal(t, false, a["isAudio"])
	assert.Equal(t, "My Video!", a["title"])

	assert.Equal(t, "/out/My_Video_.mp4\n", stdout)
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, " 12.5%  ETA 1m23s", lines[0])
	assert.Equal(t, "100.0%  ETA --", lines[1])
	assert.Zero(t, rt.bus.Subscribers())
}

func TestDownload_QuietAudio(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		return &dispatch.DownloadReply{Path: "/out/song.mp3"}, nil
	})

	_, stderr, _, err := run(t, rt, "download", "-a", "-q", "https://example.com/v")
	require.NoError(t, err)
	assert.Equal(t, true, args(t, rt.commands[0])["isAudio"])
	assert.Empty(t, stderr)
}

func TestUpdateEngine(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		return &dispatch.UpdateReply{Status: "UP_TO_DATE"}, nil
	})

	stdout, _, _, err := run(t, rt, "update-engine")
	require.NoError(t, err)
	assert.Equal(t, dispatch.MethodUpdateEngine, rt.commands[0].Method)
	assert.Empty(t, rt.commands[0].Args)
	assert.Equal(t, "UP_TO_DATE\n", stdout)
}

func TestExtract(t *testing.T) {
	rt := newFakeRuntime(func(ctx context.Context, bus *events.Bus, cmd dispatch.Command) (any, error) {
		return &extract.Reply{Type: "instagram", VideoURL: "https://cdn.example.com/v.mp4", Title: "@jane - hi"}, nil
	})

	stdout, _, _, err := run(t, rt, "extract", "https://www.instagram.com/reel/abc/")
	require.NoError(t, err)
	assert.Equal(t, dispatch.MethodDownloadInsta, rt.commands[0].Method)
	assert.Equal(t, "@jane - hi\nhttps://cdn.example.com/v.mp4\n", stdout)
	assert.True(t, rt.waited)

	rt.waited = false
	_, _, _, err = run(t, rt, "extract", "--no-wait", "https://www.instagram.com/reel/abc/")
	require.NoError(t, err)
	assert.False(t, rt.waited)
}

func TestServe(t *testing.T) {
	rt := newFakeRuntime(nil)

	_, stderr, settings, err := run(t, rt, "--config", "/tmp/s.toml", "--log-level", "debug", "serve", "--port", "9000")
	require.NoError(t, err)
	assert.True(t, rt.served)
	assert.Contains(t, stderr, "Ctrl+C")
	assert.Equal(t, Settings{ConfigPath: "/tmp/s.toml", LogLevel: "debug", Port: 9000}, settings)
}

func TestServe_SaveOverrides(t *testing.T) {
	rt := newFakeRuntime(nil)

	_, _, settings, err := run(t, rt, "serve", "--host", "0.0.0.0", "--save")
	require.NoError(t, err)
	assert.Equal(t, Settings{Host: "0.0.0.0", SaveOverrides: true}, settings)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(assert.AnError))
	assert.Equal(t, 1, ExitCode(&dispatch.Error{Code: dispatch.CodeAnalyzeError}))
	assert.Equal(t, 3, ExitCode(&dispatch.Error{Code: dispatch.CodeEngineNotReady}))
}
