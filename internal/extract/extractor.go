// Package extract scrapes direct media URLs from pages that have no
// metadata API, by running a selector-fallback script in a page renderer.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"streamsaver/pkg/models"
)

var (
	ErrBusy             = errors.New("an extraction is already in progress")
	ErrExtractionFailed = errors.New("could not find video URL")
	ErrTimeout          = errors.New("extraction timed out")
)

const (
	DefaultCaptionLimit = 2000
	DefaultTimeout      = 30 * time.Second

	fallbackUsername = "instagram"
	titleCaptionLen  = 50
)

// State is the extractor's progress through one extraction
type State int32

const (
	StateIdle State = iota
	StatePageLoading
	StateScriptInjected
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePageLoading:
		return "page_loading"
	case StateScriptInjected:
		return "script_injected"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures an Extractor
type Options struct {
	Chain        *Chain
	Timeout      time.Duration
	CaptionLimit int
	Logger       *slog.Logger
}

// Extractor runs one extraction at a time on its renderer. A second call
// while one is in flight is rejected with ErrBusy.
type Extractor struct {
	renderer     Renderer
	script       *Script
	timeout      time.Duration
	captionLimit int
	slot         chan struct{}
	state        atomic.Int32
	seq          atomic.Uint64
	mu           sync.Mutex
	pending      *pendingReport
	logger       *slog.Logger
}

// pendingReport is where the bridge delivers the report carrying token
type pendingReport struct {
	token string
	ch    chan []*string
}

// NewExtractor binds the result bridge on renderer and prepares the script
func NewExtractor(renderer Renderer, opts Options) (*Extractor, error) {
	if opts.Chain == nil {
		opts.Chain = DefaultChain()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = DefaultCaptionLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	script, err := NewScript(opts.Chain, BridgeName)
	if err != nil {
		return nil, err
	}

	e := &Extractor{
		renderer:     renderer,
		script:       script,
		timeout:      opts.Timeout,
		captionLimit: opts.CaptionLimit,
		slot:         make(chan struct{}, 1),
		logger:       opts.Logger,
	}
	if err := renderer.Bind(BridgeName, e.onBridge); err != nil {
		return nil, fmt.Errorf("failed to bind extraction bridge: %w", err)
	}
	return e, nil
}

// CurrentState reports where the latest extraction is
func (e *Extractor) CurrentState() State {
	return State(e.state.Load())
}

// Extract loads pageURL, runs the selector script and waits for its report.
// A result without a video URL is an ErrExtractionFailed error.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*models.ExtractionResult, error) {
	select {
	case e.slot <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer func() { <-e.slot }()

	pending := &pendingReport{
		token: strconv.FormatUint(e.seq.Add(1), 10),
		ch:    make(chan []*string, 1),
	}
	e.setPending(pending)
	defer e.setPending(nil)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger := e.logger.With("url", pageURL)
	result, err := e.run(ctx, pageURL, pending)
	if err != nil {
		e.setState(StateFailed)
		logger.Warn("extraction failed", "error", err)
		return nil, err
	}

	e.setState(StateComplete)
	logger.Info("extraction complete", "video_url", models.StringValue(result.VideoURL))
	return result, nil
}

func (e *Extractor) run(ctx context.Context, pageURL string, pending *pendingReport) (*models.ExtractionResult, error) {
	e.setState(StatePageLoading)

	loaded := make(chan error, 1)
	err := e.renderer.LoadURL(ctx, pageURL, func(err error) {
		// Renderers may report more than once, e.g. after a redirect.
		select {
		case loaded <- err:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case err := <-loaded:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, waitError(ctx, "page load")
	}

	e.setState(StateScriptInjected)
	if err := e.renderer.EvaluateScript(ctx, e.script.WithToken(pending.token)); err != nil {
		return nil, err
	}

	var args []*string
	select {
	case args = <-pending.ch:
	case <-ctx.Done():
		return nil, waitError(ctx, "extraction script")
	}

	result := e.buildResult(args)
	if result.VideoURL == nil {
		return nil, ErrExtractionFailed
	}
	return result, nil
}

// onBridge is the bound bridge callback. Reports with no extraction
// waiting, from an earlier extraction, or after one already arrived, are
// dropped.
func (e *Extractor) onBridge(args []*string) {
	e.mu.Lock()
	p := e.pending
	e.mu.Unlock()

	if p == nil {
		e.logger.Debug("ignoring bridge call with no extraction pending")
		return
	}
	if token := bridgeToken(args); token != p.token {
		e.logger.Debug("ignoring bridge call from another extraction", "token", token, "want", p.token)
		return
	}
	select {
	case p.ch <- args:
	default:
	}
}

func bridgeToken(args []*string) string {
	if len(args) <= tokenField || args[tokenField] == nil {
		return ""
	}
	return *args[tokenField]
}

func (e *Extractor) buildResult(args []*string) *models.ExtractionResult {
	field := func(i int) *string {
		if i >= len(args) || args[i] == nil {
			return nil
		}
		v := strings.TrimSpace(*args[i])
		if v == "" {
			return nil
		}
		return &v
	}

	result := &models.ExtractionResult{
		VideoURL:     field(0),
		ThumbnailURL: field(1),
		Username:     field(3),
	}
	if caption := field(2); caption != nil {
		if c := NormalizeCaption(*caption, e.captionLimit); c != "" {
			result.Caption = &c
		}
	}
	return result
}

func (e *Extractor) setPending(p *pendingReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = p
}

func (e *Extractor) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.logger.Debug("extractor state changed", "from", prev, "to", s)
	}
}

func waitError(ctx context.Context, stage string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: waiting for %s", ErrTimeout, stage)
	}
	return ctx.Err()
}

// NormalizeCaption collapses whitespace runs (Unicode spaces included) to
// one space, trims, and cuts the result to limit characters
func NormalizeCaption(caption string, limit int) string {
	c := strings.Join(strings.Fields(caption), " ")
	return truncateRunes(c, limit)
}

// Title is the display title for an extraction: "@user - caption start"
func Title(result *models.ExtractionResult) string {
	username := models.StringValue(result.Username)
	if username == "" {
		username = fallbackUsername
	}
	return fmt.Sprintf("@%s - %s", username, truncateRunes(models.StringValue(result.Caption), titleCaptionLen))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
