// Package dispatch routes caller commands to the engine, downloader and
// extractor, and turns their outcomes into replies or typed errors.
package dispatch

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks streamsaver/internal/dispatch Analyzer,Downloader,Updater,Extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"streamsaver/internal/downloader"
	"streamsaver/internal/engine"
	"streamsaver/internal/extract"
	"streamsaver/internal/formats"
	"streamsaver/pkg/models"
)

const (
	MethodAnalyze       = "analyze"
	MethodDownloadVideo = "downloadVideo"
	MethodUpdateEngine  = "updateEngine"
	MethodDownloadInsta = "downloadInsta"
)

const (
	notReadyMessage = "Download engine is still initializing."
	analyzeType     = "video"
)

// Analyzer fetches media metadata
type Analyzer interface {
	Info(ctx context.Context, url string) (*models.MediaInfo, error)
}

// Downloader runs a download to completion
type Downloader interface {
	Download(ctx context.Context, req models.DownloadRequest) (*downloader.Result, error)
}

// Updater updates the engine binaries
type Updater interface {
	Update(ctx context.Context) (string, error)
}

// Extractor scrapes a page that has no metadata API
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (*extract.Reply, error)
}

// Command is one caller request. Args is a JSON object.
type Command struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// AnalyzeReply lists the downloadable variants of a URL
type AnalyzeReply struct {
	Type        string                `json:"type"`
	Title       string                `json:"title"`
	Thumbnail   string                `json:"thumbnail"`
	Description string                `json:"description"`
	Duration    int64                 `json:"duration"`
	Tags        []string              `json:"tags"`
	Options     []models.FormatOption `json:"options"`
}

// DownloadReply reports a finished download
type DownloadReply struct {
	Path       string `json:"path"`
	DownloadID string `json:"downloadId"`
}

// UpdateReply reports the engine update outcome
type UpdateReply struct {
	Status string `json:"status"`
}

type urlArgs struct {
	URL string `json:"url"`
}

// Options configures a Dispatcher
type Options struct {
	ReadyTimeout  time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
}

// Dispatcher is the single entry point for commands. Engine work runs on a
// fixed number of slots; commands beyond that wait for a free slot.
type Dispatcher struct {
	gate         engine.Gate
	analyzer     Analyzer
	downloader   Downloader
	updater      Updater
	extractor    Extractor
	readyTimeout time.Duration
	pool         *semaphore.Weighted
	logger       *slog.Logger
}

// New creates a dispatcher
func New(gate engine.Gate, analyzer Analyzer, dl Downloader, updater Updater, extractor Extractor, opts Options) *Dispatcher {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		gate:         gate,
		analyzer:     analyzer,
		downloader:   dl,
		updater:      updater,
		extractor:    extractor,
		readyTimeout: opts.ReadyTimeout,
		pool:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:       opts.Logger,
	}
}

// Dispatch runs cmd and returns its reply. Failures are always *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (any, error) {
	logger := d.logger.With("method", cmd.Method)
	start := time.Now()

	reply, err := d.route(ctx, cmd)
	if err != nil {
		logger.Warn("command failed", "code", err.Code, "error", err.Message, "duration", time.Since(start))
		return nil, err
	}
	logger.Debug("command finished", "duration", time.Since(start))
	return reply, nil
}

func (d *Dispatcher) route(ctx context.Context, cmd Command) (any, *Error) {
	switch cmd.Method {
	case MethodAnalyze:
		return d.analyze(ctx, cmd.Args)
	case MethodDownloadVideo:
		return d.downloadVideo(ctx, cmd.Args)
	case MethodUpdateEngine:
		return d.updateEngine(ctx)
	case MethodDownloadInsta:
		return d.downloadInsta(ctx, cmd.Args)
	default:
		return nil, newError(CodeNotImplemented, "unknown method: "+cmd.Method)
	}
}

func (d *Dispatcher) analyze(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var args urlArgs
	if err := decodeArgs(raw, &args); err != nil || !validURL(args.URL) {
		return nil, newError(CodeInvalidURL, "URL is null or invalid")
	}

	release, derr := d.acquireEngine(ctx, CodeAnalyzeError)
	if derr != nil {
		return nil, derr
	}
	defer release()

	info, err := d.analyzer.Info(ctx, args.URL)
	if err != nil {
		return nil, engineError(CodeAnalyzeError, err)
	}

	return &AnalyzeReply{
		Type:        analyzeType,
		Title:       info.Title,
		Thumbnail:   info.ThumbnailURL,
		Description: info.Description,
		Duration:    info.DurationSeconds,
		Tags:        info.Tags,
		Options:     formats.Resolve(info.Formats),
	}, nil
}

func (d *Dispatcher) downloadVideo(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var req models.DownloadRequest
	if err := decodeArgs(raw, &req); err != nil {
		return nil, newError(CodeInvalidParams, "arguments must be a JSON object")
	}
	if !validURL(req.SourceURL) {
		return nil, newError(CodeInvalidParams, "url is null or invalid")
	}
	if !req.IsAudioOnly && strings.TrimSpace(req.FormatID) == "" {
		return nil, newError(CodeInvalidParams, "formatId is required for video downloads")
	}

	release, derr := d.acquireEngine(ctx, CodeDownloadError)
	if derr != nil {
		return nil, derr
	}
	defer release()

	result, err := d.downloader.Download(ctx, req)
	if err != nil {
		return nil, engineError(CodeDownloadError, err)
	}
	return &DownloadReply{Path: result.Path, DownloadID: result.ID}, nil
}

func (d *Dispatcher) updateEngine(ctx context.Context) (any, *Error) {
	status, err := d.updater.Update(ctx)
	if err != nil {
		return nil, wrapError(CodeUpdateError, err)
	}
	return &UpdateReply{Status: status}, nil
}

func (d *Dispatcher) downloadInsta(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var args urlArgs
	if err := decodeArgs(raw, &args); err != nil || !validURL(args.URL) {
		return nil, newError(CodeInvalidURL, "URL is null or invalid")
	}

	reply, err := d.extractor.Extract(ctx, args.URL)
	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, extract.ErrBusy):
		return nil, wrapError(CodeBusy, err)
	default:
		return nil, wrapError(CodeExtractionFailed, err)
	}
}

// acquireEngine waits for the engine gate, then a pool slot. The returned
// func frees the slot.
func (d *Dispatcher) acquireEngine(ctx context.Context, code Code) (func(), *Error) {
	if !d.gate.AwaitReady(ctx, d.readyTimeout) {
		return nil, newError(CodeEngineNotReady, notReadyMessage)
	}
	if err := d.pool.Acquire(ctx, 1); err != nil {
		return nil, wrapError(code, err)
	}
	return func() { d.pool.Release(1) }, nil
}

// engineError reports a binary that disappeared after readiness as not
// ready; everything else keeps the engine's own message
func engineError(code Code, err error) *Error {
	if errors.Is(err, engine.ErrNotReady) {
		return wrapError(CodeEngineNotReady, err)
	}
	return wrapError(code, err)
}

func decodeArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func validURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
