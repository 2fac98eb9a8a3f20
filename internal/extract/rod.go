package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodConfig configures the headless Chrome renderer
type RodConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string
	UserAgent string
	Logger    *slog.Logger
}

// RodRenderer drives a single stealth Chrome tab. The browser is started
// lazily on first use and reused for later extractions.
type RodRenderer struct {
	cfg      RodConfig
	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	lnch     *launcher.Launcher
	bindings map[string]BridgeFunc
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewRodRenderer creates a renderer; Chrome is not started until needed
func NewRodRenderer(cfg RodConfig) *RodRenderer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RodRenderer{
		cfg:      cfg,
		bindings: make(map[string]BridgeFunc),
		ctx:      ctx,
		cancel:   cancel,
		logger:   cfg.Logger,
	}
}

// Bind implements Renderer
func (r *RodRenderer) Bind(name string, fn BridgeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[name] = fn
	if r.page != nil {
		return proto.RuntimeAddBinding{Name: name}.Call(r.page)
	}
	return nil
}

// LoadURL implements Renderer
func (r *RodRenderer) LoadURL(ctx context.Context, pageURL string, onPageFinished func(err error)) error {
	page, err := r.ensurePage()
	if err != nil {
		return err
	}

	go func() {
		p := page.Context(ctx)
		if err := p.Navigate(pageURL); err != nil {
			onPageFinished(fmt.Errorf("navigate %s: %w", pageURL, err))
			return
		}
		if err := p.WaitLoad(); err != nil {
			onPageFinished(fmt.Errorf("wait load %s: %w", pageURL, err))
			return
		}
		r.logger.Debug("page loaded", "url", pageURL)
		onPageFinished(nil)
	}()
	return nil
}

// EvaluateScript implements Renderer
func (r *RodRenderer) EvaluateScript(ctx context.Context, script *Script) error {
	r.mu.Lock()
	page := r.page
	r.mu.Unlock()
	if page == nil {
		return ErrNoPage
	}

	if _, err := page.Context(ctx).Eval(script.Source); err != nil {
		return fmt.Errorf("evaluate extraction script: %w", err)
	}
	return nil
}

// Close shuts down the tab and Chrome
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.cancel()

	var err error
	if r.page != nil {
		err = r.page.Close()
		r.page = nil
	}
	if r.browser != nil {
		if cerr := r.browser.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	return err
}

func (r *RodRenderer) ensurePage() (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.page != nil {
		return r.page, nil
	}

	if r.browser == nil {
		b, err := r.launch()
		if err != nil {
			return nil, err
		}
		r.browser = b
	}

	page, err := stealth.Page(r.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if r.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			r.logger.Warn("browser: set user agent failed", "error", err)
		}
	}

	for name := range r.bindings {
		if err := (proto.RuntimeAddBinding{Name: name}).Call(page); err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: add binding %s: %w", name, err)
		}
	}

	// Subscribe before any script can run so no bridge call is missed.
	wait := page.Context(r.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		r.mu.Lock()
		fn := r.bindings[e.Name]
		r.mu.Unlock()
		if fn == nil {
			return
		}

		args, err := decodeBridgePayload(e.Payload)
		if err != nil {
			r.logger.Warn("browser: parse bridge payload", "error", err)
			return
		}
		fn(args)
	})
	go wait()

	r.page = page
	return page, nil
}

func (r *RodRenderer) launch() (*rod.Browser, error) {
	var wsURL string

	if r.cfg.RemoteURL != "" {
		wsURL = r.cfg.RemoteURL
		r.logger.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.logger.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL).Context(r.ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}
