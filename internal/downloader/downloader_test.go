package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsaver/internal/engine"
	"streamsaver/internal/events"
	"streamsaver/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type executorFunc func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error

func (f executorFunc) Execute(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
	return f(ctx, args, onProgress)
}

type staticPaths engine.Paths

func (p staticPaths) Paths() engine.Paths { return engine.Paths(p) }

// recorder is a publisher that keeps every event in order
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// writeOutput emulates the engine producing the file named by -o
func writeOutput(t *testing.T, args []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(argValue(t, args, "-o"), []byte("media"), 0644))
}

func newTestService(t *testing.T, exec Executor, pub events.Publisher) *Service {
	t.Helper()
	cfg := models.DownloadConfig{OutputDir: t.TempDir(), MaxConcurrent: 1, Tuning: models.DefaultTuning()}
	return NewService(exec, pub, staticPaths(testPaths), cfg, testLogger())
}

func TestService_Download(t *testing.T) {
	rec := &recorder{}
	lines := []string{
		"[download]  10.0% of 10.00MiB at 1.00MiB/s ETA 00:09",
		"[download]  60.0% of 10.00MiB at 1.00MiB/s ETA 00:04",
		"[download] 100% of 10.00MiB in 00:00:10",
	}

	var gotArgs []string
	exec := executorFunc(func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
		gotArgs = args
		for i, l := range lines {
			onProgress(float64((i+1)*30), int64(9-i), l)
		}
		writeOutput(t, args)
		return nil
	})

	svc := newTestService(t, exec, rec)
	res, err := svc.Download(context.Background(), models.DownloadRequest{
		SourceURL: "https://youtu.be/abc",
		FormatID:  "137",
		TitleHint: "My Video!",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, argValue(t, gotArgs, "-o"), res.Path)
	assert.Contains(t, res.Path, "My_Video_.mp4")
	assert.Equal(t, "137+bestaudio/best", argValue(t, gotArgs, "-f"))

	evs := rec.all()
	require.Len(t, evs, len(lines)+1)
	for i, l := range lines {
		p, ok := evs[i].(*events.Progress)
		require.True(t, ok, "event %d should be progress", i)
		assert.Equal(t, l, p.Line)
		assert.Equal(t, res.ID, p.EntityID())
		assert.Equal(t, "https://youtu.be/abc", p.URL)
	}

	success, ok := evs[len(evs)-1].(*events.Success)
	require.True(t, ok, "terminal event must come last")
	assert.Equal(t, res.Path, success.Path)
	assert.Equal(t, "https://youtu.be/abc", success.URL)

	assert.Equal(t, 0, svc.GetActiveDownloads())
}

func TestService_DownloadFailure(t *testing.T) {
	rec := &recorder{}
	engineErr := fmt.Errorf("%w: ERROR: [youtube] abc: Requested format is not available", engine.ErrEngineFailed)
	exec := executorFunc(func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
		onProgress(0, -1, "[youtube] abc: Downloading webpage")
		return engineErr
	})

	svc := newTestService(t, exec, rec)
	_, err := svc.Download(context.Background(), models.DownloadRequest{SourceURL: "https://youtu.be/abc", FormatID: "999"})

	require.ErrorIs(t, err, ErrDownloadFailed)
	require.ErrorIs(t, err, engine.ErrEngineFailed)
	assert.Contains(t, err.Error(), "Requested format is not available")

	evs := rec.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeProgress, evs[0].EventType())
	failure, ok := evs[1].(*events.Failure)
	require.True(t, ok)
	assert.Contains(t, failure.Error, "Requested format is not available")
}

func TestService_OutputMissing(t *testing.T) {
	rec := &recorder{}
	exec := executorFunc(func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
		return nil
	})

	svc := newTestService(t, exec, rec)
	_, err := svc.Download(context.Background(), models.DownloadRequest{SourceURL: "u", FormatID: "1"})

	require.ErrorIs(t, err, ErrOutputMissing)
	evs := rec.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeFailure, evs[0].EventType())
}

func TestService_IgnoresCallerCancellation(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	exec := executorFunc(func(runCtx context.Context, args []string, onProgress engine.ProgressFunc) error {
		cancel()
		if runCtx.Err() != nil {
			return errors.New("download was aborted")
		}
		writeOutput(t, args)
		return nil
	})

	svc := newTestService(t, exec, rec)
	_, err := svc.Download(ctx, models.DownloadRequest{SourceURL: "u", FormatID: "1"})
	require.NoError(t, err)
}

func TestService_ActiveTracking(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
		onProgress(25, 3, "[download]  25.0%")
		close(started)
		<-release
		writeOutput(t, args)
		return nil
	})

	svc := newTestService(t, exec, &recorder{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Download(context.Background(), models.DownloadRequest{SourceURL: "https://x", IsAudioOnly: true})
		done <- err
	}()

	<-started
	active := svc.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "https://x", active[0].URL)
	assert.Equal(t, StatusDownloading, active[0].Status)
	assert.InDelta(t, 25, active[0].Progress, 0.001)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("download did not finish")
	}
	assert.Empty(t, svc.Active())
}

func TestService_ConcurrentDownloadsAreIndependent(t *testing.T) {
	bus := events.NewBus(testLogger())
	defer bus.Close()
	sub := bus.SubscribeAll(64)

	exec := executorFunc(func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
		for i := 1; i <= 5; i++ {
			onProgress(float64(i*20), -1, "line")
		}
		writeOutput(t, args)
		return nil
	})
	svc := newTestService(t, exec, bus)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Download(context.Background(), models.DownloadRequest{
				SourceURL: fmt.Sprintf("https://x/%d", i),
				FormatID:  "1",
				TitleHint: fmt.Sprintf("t%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Per download: five increasing progress readings, then success
	last := map[string]float64{}
	terminal := map[string]bool{}
	for i := 0; i < 4*6; i++ {
		e := <-sub.Events()
		id := e.EntityID()
		require.False(t, terminal[id], "event after terminal for %s", id)
		switch ev := e.(type) {
		case *events.Progress:
			require.Greater(t, ev.Progress, last[id])
			last[id] = ev.Progress
		case *events.Success:
			require.Equal(t, 100.0, last[id])
			terminal[id] = true
		default:
			t.Fatalf("unexpected event %T", e)
		}
	}
	assert.Len(t, terminal, 4)
}

func TestService_StalledSubscriberDoesNotBlockDownload(t *testing.T) {
	bus := events.NewBus(testLogger(), events.WithDeliveryTimeout(10*time.Millisecond))
	defer bus.Close()
	stalled := bus.SubscribeAll(0)

	exec := executorFunc(func(ctx context.Context, args []string, onProgress engine.ProgressFunc) error {
		for i := 1; i <= 100; i++ {
			onProgress(float64(i), -1, "line")
		}
		writeOutput(t, args)
		return nil
	})
	svc := newTestService(t, exec, bus)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Download(context.Background(), models.DownloadRequest{SourceURL: "https://x", FormatID: "1"})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("download blocked on a subscriber that never reads")
	}
	assert.Empty(t, svc.Active())

	select {
	case <-stalled.Done():
	default:
		t.Fatal("stalled subscriber should have been evicted")
	}
}

func TestDownloadStatus_String(t *testing.T) {
	assert.Equal(t, "downloading", StatusDownloading.String())
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", DownloadStatus(9).String())
}
