package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"streamsaver/internal/events"
	"streamsaver/pkg/models"
)

// DelegatedPath is reported as the location of delegated downloads, whose
// real destination is owned by the download manager
const DelegatedPath = "System History"

const replyType = "instagram"

var ErrDelegationFailed = errors.New("failed to hand off download")

// Delegate is a download manager that takes over a resolved media URL
type Delegate interface {
	Enqueue(ctx context.Context, mediaURL, name string) (string, error)
}

// Reply is the caller-facing result of an extraction
type Reply struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	VideoURL  string `json:"videoUrl"`
	Thumbnail string `json:"thumbnail"`
	Caption   string `json:"caption"`
	Username  string `json:"username"`
	Title     string `json:"title"`
}

// Service extracts a page and delegates the found media
type Service struct {
	extractor *Extractor
	delegate  Delegate
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates an extraction service
func NewService(extractor *Extractor, delegate Delegate, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{extractor: extractor, delegate: delegate, publisher: publisher, logger: logger}
}

// Extract scrapes pageURL, hands the video to the delegate and reports
// success for it straight away
func (s *Service) Extract(ctx context.Context, pageURL string) (*Reply, error) {
	result, err := s.extractor.Extract(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	videoURL := models.StringValue(result.VideoURL)
	name := models.StringValue(result.Username)
	if name == "" {
		name = "insta_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	dest, err := s.delegate.Enqueue(ctx, videoURL, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDelegationFailed, err)
	}
	s.logger.Info("download delegated", "url", videoURL, "path", dest)

	if err := s.publisher.Publish(ctx, events.NewSuccess(uuid.NewString(), DelegatedPath, videoURL)); err != nil {
		s.logger.Warn("failed to publish delegated download", "error", err)
	}

	return &Reply{
		Type:      replyType,
		URL:       pageURL,
		VideoURL:  videoURL,
		Thumbnail: models.StringValue(result.ThumbnailURL),
		Caption:   models.StringValue(result.Caption),
		Username:  models.StringValue(result.Username),
		Title:     Title(result),
	}, nil
}

// State reports the extractor state
func (s *Service) State() State {
	return s.extractor.CurrentState()
}
