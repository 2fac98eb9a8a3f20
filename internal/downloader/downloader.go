// Package downloader builds engine download invocations and runs them,
// forwarding progress to the event bus.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamsaver/internal/engine"
	"streamsaver/internal/events"
	"streamsaver/pkg/models"
)

var (
	ErrDownloadFailed = errors.New("download failed")
	ErrOutputMissing  = errors.New("engine reported success but output file is missing")
)

// DownloadStatus represents the status of a download
type DownloadStatus int

const (
	StatusDownloading DownloadStatus = iota
	StatusCompleted
	StatusFailed
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusDownloading:
		return "downloading"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Executor runs an invocation, reporting each output line
type Executor interface {
	Execute(ctx context.Context, args []string, onProgress engine.ProgressFunc) error
}

// PathSource supplies the resolved native binary locations
type PathSource interface {
	Paths() engine.Paths
}

// Download is a snapshot of one in-flight download
type Download struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	OutputPath string         `json:"path"`
	Status     DownloadStatus `json:"-"`
	Progress   float64        `json:"progress"`
	StartedAt  time.Time      `json:"startedAt"`
}

// Result is what a finished download reports back
type Result struct {
	ID   string `json:"downloadId"`
	Path string `json:"path"`
}

// Service runs downloads. Each download is independent; the only shared
// state is the active set used for status reporting.
type Service struct {
	mu        sync.RWMutex
	executor  Executor
	publisher events.Publisher
	paths     PathSource
	outputDir string
	tuning    models.TuningConfig
	active    map[string]*Download
	logger    *slog.Logger
}

// NewService creates a download service
func NewService(executor Executor, publisher events.Publisher, paths PathSource, cfg models.DownloadConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		executor:  executor,
		publisher: publisher,
		paths:     paths,
		outputDir: cfg.OutputDir,
		tuning:    cfg.Tuning,
		active:    make(map[string]*Download),
		logger:    logger,
	}
}

// Download runs req to completion. Progress events are published in the
// order the engine emits them, each before the next line is read, and
// exactly one terminal event follows. Cancelling ctx does not abort a
// started download.
func (s *Service) Download(ctx context.Context, req models.DownloadRequest) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	inv := NewBuilder(s.outputDir, s.tuning, s.paths.Paths()).
		Build(req.SourceURL, req.FormatID, req.IsAudioOnly, req.TitleHint)

	dl := &Download{
		ID:         uuid.NewString(),
		URL:        req.SourceURL,
		OutputPath: inv.OutputPath,
		Status:     StatusDownloading,
		StartedAt:  time.Now(),
	}
	logger := s.logger.With("download_id", dl.ID, "url", dl.URL)

	s.track(dl)
	defer s.untrack(dl.ID)

	logger.Info("download started", "output", inv.OutputPath, "audio_only", req.IsAudioOnly, "format", req.FormatID)
	err := s.run(ctx, dl, inv)
	if err != nil {
		s.setStatus(dl, StatusFailed)
		logger.Error("download failed", "error", err)
		s.publish(ctx, events.NewFailure(dl.ID, dl.URL, err))
		return nil, err
	}

	s.setStatus(dl, StatusCompleted)
	logger.Info("download completed", "path", inv.OutputPath, "duration", time.Since(dl.StartedAt))
	s.publish(ctx, events.NewSuccess(dl.ID, inv.OutputPath, dl.URL))

	return &Result{ID: dl.ID, Path: inv.OutputPath}, nil
}

func (s *Service) run(ctx context.Context, dl *Download, inv Invocation) error {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create output directory: %w", ErrDownloadFailed, err)
	}

	err := s.executor.Execute(ctx, inv.Args, func(percent float64, eta int64, line string) {
		s.setProgress(dl, percent)
		s.publish(ctx, events.NewProgress(models.ProgressEvent{
			DownloadID:             dl.ID,
			SourceURL:              dl.URL,
			PercentComplete:        percent,
			EstimatedTimeRemaining: eta,
			RawLogLine:             line,
		}))
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	if _, err := os.Stat(inv.OutputPath); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrDownloadFailed, ErrOutputMissing, inv.OutputPath)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", "type", e.EventType(), "download_id", e.EntityID(), "error", err)
	}
}

// Active returns the in-flight downloads, oldest first
func (s *Service) Active() []Download {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Download, 0, len(s.active))
	for _, dl := range s.active {
		out = append(out, *dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// GetActiveDownloads returns the number of in-flight downloads
func (s *Service) GetActiveDownloads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

func (s *Service) track(dl *Download) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[dl.ID] = dl
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

func (s *Service) setProgress(dl *Download, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl.Progress = percent
}

func (s *Service) setStatus(dl *Download, status DownloadStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl.Status = status
}
