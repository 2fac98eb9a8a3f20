package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"streamsaver/pkg/models"
)

// ytdlpJSON is the subset of `yt-dlp -J` output we read
type ytdlpJSON struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Duration    float64  `json:"duration"`
	Thumbnail   string   `json:"thumbnail"`
	Tags        []string `json:"tags"`
	Formats     []struct {
		FormatID       string   `json:"format_id"`
		Ext            string   `json:"ext"`
		Height         *float64 `json:"height"`
		Filesize       *float64 `json:"filesize"`
		FilesizeApprox *float64 `json:"filesize_approx"`
		VCodec         string   `json:"vcodec"`
		ACodec         string   `json:"acodec"`
		ABR            *float64 `json:"abr"`
	} `json:"formats"`
}

// Engine runs analyze and download invocations against the extraction engine
type Engine struct {
	runner Runner
	logger *slog.Logger
}

// New creates an engine over runner
func New(runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{runner: runner, logger: logger}
}

// Info fetches metadata and the raw format list for url
func (e *Engine) Info(ctx context.Context, url string) (*models.MediaInfo, error) {
	out, err := e.runner.Output(ctx, []string{"-J", "--no-playlist", "--no-warnings", url})
	if err != nil {
		return nil, err
	}

	var data ytdlpJSON
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("%w: unreadable metadata: %v", ErrEngineFailed, err)
	}

	info := &models.MediaInfo{
		Title:           data.Title,
		ThumbnailURL:    data.Thumbnail,
		Description:     data.Description,
		DurationSeconds: int64(data.Duration),
		Tags:            data.Tags,
		Formats:         make([]models.FormatRecord, 0, len(data.Formats)),
	}
	if info.Tags == nil {
		info.Tags = []string{}
	}

	for _, f := range data.Formats {
		rec := models.FormatRecord{
			FormatID:       f.FormatID,
			Extension:      f.Ext,
			AudioCodec:     codec(f.ACodec),
			VideoCodec:     codec(f.VCodec),
			AverageBitrate: f.ABR,
		}
		if f.Height != nil {
			rec.Height = int(*f.Height)
		}
		if size := firstPositive(f.Filesize, f.FilesizeApprox); size != nil {
			rec.FileSizeBytes = size
		}
		info.Formats = append(info.Formats, rec)
	}

	e.logger.Debug("engine info", "title", info.Title, "formats", len(info.Formats))
	return info, nil
}

// Execute runs a download invocation, feeding every output line through
// a fresh progress parser to onProgress before returning
func (e *Engine) Execute(ctx context.Context, args []string, onProgress ProgressFunc) error {
	parser := NewProgressParser()
	return e.runner.Stream(ctx, args, func(line string) {
		percent, eta := parser.Parse(line)
		if onProgress != nil {
			onProgress(percent, eta, line)
		}
	})
}

// Version reports the engine's own version string
func (e *Engine) Version(ctx context.Context) (string, error) {
	out, err := e.runner.Output(ctx, []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// codec maps the engine's "none" marker to an absent value
func codec(s string) *string {
	if s == "" || s == "none" {
		return nil
	}
	return &s
}

func firstPositive(values ...*float64) *int64 {
	for _, v := range values {
		if v != nil && *v > 0 {
			n := int64(*v)
			return &n
		}
	}
	return nil
}
