// Package app wires configuration, the engine lifecycle, the download and
// extraction services, the dispatcher and the HTTP server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"streamsaver/internal/api"
	"streamsaver/internal/config"
	"streamsaver/internal/dispatch"
	"streamsaver/internal/downloader"
	"streamsaver/internal/engine"
	"streamsaver/internal/events"
	"streamsaver/internal/extract"
	"streamsaver/internal/ytdl"
	"streamsaver/pkg/models"
)

// App owns every long-lived component
type App struct {
	config     *models.Config
	version    string
	logger     *slog.Logger
	ytdl       *ytdl.Manager
	toolchain  *engine.Toolchain
	engine     *engine.Engine
	lifecycle  *engine.Lifecycle
	bus        *events.Bus
	downloads  *downloader.Service
	renderer   extract.Renderer
	delegate   *extract.HTTPDelegate
	extraction *extract.Service
	dispatcher *dispatch.Dispatcher
	server     *api.Server
}

// Options select the configuration file and per-run overrides
type Options struct {
	ConfigPath string
	Version    string
	LogLevel   string
	Host       string
	Port       int
	// SaveOverrides writes the flag overrides back to the config file
	SaveOverrides bool
}

// Open loads the configuration (the default location when no path is
// given), applies overrides and builds the application
func Open(ctx context.Context, opts Options) (*App, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, err
	}

	override := func(cfg *models.Config) {
		if opts.LogLevel != "" {
			cfg.Server.LogLevel = opts.LogLevel
		}
		if opts.Host != "" {
			cfg.Server.Host = opts.Host
		}
		if opts.Port != 0 {
			cfg.Server.Port = opts.Port
		}
	}

	var cfg *models.Config
	if opts.SaveOverrides {
		if err := cfgManager.Update(override); err != nil {
			return nil, err
		}
		cfg = cfgManager.Get()
	} else {
		cfg = cfgManager.Get()
		override(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	logger := NewLogger(cfg.Server.LogLevel, os.Stderr)
	logger.Debug("configuration loaded", "path", cfgManager.Path())
	return New(cfg, opts.Version, logger)
}

// New builds the application from cfg. Nothing is started.
func New(cfg *models.Config, version string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{config: cfg, version: version, logger: logger}

	a.ytdl = ytdl.NewManager(cfg.Engine.UtilsDir,
		ytdl.WithBinaryPath(cfg.Engine.YtdlpPath),
		ytdl.WithChannel(cfg.Engine.ReleaseChannel),
		ytdl.WithLogger(component(logger, "ytdl")),
	)

	a.toolchain = &engine.Toolchain{}
	a.engine = engine.New(engine.NewExecRunner(a.toolchain.Ytdlp, component(logger, "runner")), component(logger, "engine"))
	a.lifecycle = engine.NewLifecycle(
		[]engine.Step{
			engine.ExtractionStep(a.ytdl, a.toolchain, a.engine),
			engine.TranscodingStep(cfg.Engine.FfmpegPath, cfg.Engine.Aria2cPath, a.toolchain),
		},
		engine.WithUpdater(a.updateEngine),
		engine.WithAutoUpdate(cfg.Engine.AutoUpdate),
		engine.WithPollInterval(cfg.Engine.PollInterval),
		engine.WithLifecycleLogger(component(logger, "lifecycle")),
	)

	a.bus = events.NewBus(component(logger, "events"))
	a.downloads = downloader.NewService(a.engine, a.bus, a.toolchain, cfg.Download, component(logger, "downloader"))

	if err := a.buildExtraction(cfg.Extract); err != nil {
		return nil, err
	}

	a.dispatcher = dispatch.New(a.lifecycle, a.engine, a.downloads, a.lifecycle, a.extraction, dispatch.Options{
		ReadyTimeout:  cfg.Engine.ReadyTimeout,
		MaxConcurrent: cfg.Download.MaxConcurrent,
		Logger:        component(logger, "dispatch"),
	})

	a.server = api.NewServer(cfg.Server, api.Deps{
		Dispatcher:    a.dispatcher,
		Events:        a.bus,
		Engine:        a.lifecycle,
		Downloads:     a.downloads,
		EngineVersion: a.ytdl.GetCurrentVersion,
		Version:       version,
		Logger:        component(logger, "api"),
	})

	return a, nil
}

func (a *App) buildExtraction(cfg models.ExtractConfig) error {
	chain, err := extract.LoadChain(cfg.SelectorsPath)
	if err != nil {
		return err
	}

	switch cfg.Renderer {
	case models.RendererStatic:
		client := &http.Client{Timeout: cfg.Timeout}
		a.renderer = extract.NewStaticRenderer(client, cfg.UserAgent, component(a.logger, "renderer"))
	default:
		a.renderer = extract.NewRodRenderer(extract.RodConfig{
			RemoteURL: cfg.RemoteURL,
			UserAgent: cfg.UserAgent,
			Logger:    component(a.logger, "renderer"),
		})
	}

	extractor, err := extract.NewExtractor(a.renderer, extract.Options{
		Chain:        chain,
		Timeout:      cfg.Timeout,
		CaptionLimit: cfg.CaptionLimit,
		Logger:       component(a.logger, "extractor"),
	})
	if err != nil {
		return err
	}

	a.delegate = extract.NewHTTPDelegate(cfg.DelegateDir, nil, component(a.logger, "delegate"))
	a.extraction = extract.NewService(extractor, a.delegate, a.bus, component(a.logger, "extract"))
	return nil
}

func (a *App) updateEngine(ctx context.Context) (string, error) {
	status, err := a.ytdl.Update(ctx)
	return string(status), err
}

// Start begins engine initialization in the background. Repeated calls
// are no-ops.
func (a *App) Start(ctx context.Context) {
	a.lifecycle.StartInitialization(ctx)
}

// Dispatch runs one command, starting the engine first if needed
func (a *App) Dispatch(ctx context.Context, cmd dispatch.Command) (any, error) {
	a.Start(context.WithoutCancel(ctx))
	return a.dispatcher.Dispatch(ctx, cmd)
}

// Events returns the notification bus
func (a *App) Events() *events.Bus {
	return a.bus
}

// Config returns the configuration the app was built from
func (a *App) Config() *models.Config {
	return a.config
}

// Serve starts the engine and the HTTP server and blocks until ctx ends
func (a *App) Serve(ctx context.Context) error {
	a.Start(ctx)

	if err := a.server.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-a.lifecycle.Done():
			a.logger.Info("engine initialization finished", "state", a.lifecycle.CurrentState())
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		return a.server.Stop()
	})
	return g.Wait()
}

// Wait blocks until delegated downloads have finished
func (a *App) Wait() {
	a.delegate.Wait()
}

// Addr is the address the server is listening on
func (a *App) Addr() string {
	return a.server.GetActualAddr()
}

// Close releases the renderer, pending delegated downloads and the bus
func (a *App) Close() error {
	var errs []error
	if err := a.delegate.Close(); err != nil {
		errs = append(errs, fmt.Errorf("delegate: %w", err))
	}
	if err := a.renderer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("renderer: %w", err))
	}
	if err := a.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	return errors.Join(errs...)
}

func component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
