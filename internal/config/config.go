// Package config handles TOML configuration loading, defaults, validation and saving.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"streamsaver/pkg/models"
)

var (
	ErrInvalidPort         = errors.New("invalid port: must be between 1 and 65535")
	ErrInvalidLogLevel     = errors.New("invalid log level: must be one of debug, info, warn, error")
	ErrInvalidReadyTimeout = errors.New("invalid ready timeout: must be between 1s and 5m")
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be positive and below the ready timeout")
	ErrInvalidChannel      = errors.New("invalid release channel: must be stable or nightly")
	ErrInvalidConcurrency  = errors.New("invalid max concurrent downloads: must be at least 1")
	ErrInvalidRenderer     = errors.New("invalid renderer: must be rod or static")
	ErrInvalidCaptionLimit = errors.New("invalid caption limit: must be positive")
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Manager handles configuration loading, saving, and updates
type Manager struct {
	mu         sync.RWMutex
	config     *models.Config
	configPath string
}

// NewManager creates a new configuration manager
// If the config file doesn't exist, it creates one with default values
func NewManager(configPath string) (*Manager, error) {
	manager := &Manager{
		configPath: configPath,
		config:     models.DefaultConfig(),
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := manager.load(); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		manager.config = mergeWithDefaults(manager.config, configDir)
		if err := manager.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	if err := Validate(manager.config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return manager, nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *models.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	return &cfg
}

// Path returns the file the configuration is persisted to
func (m *Manager) Path() string {
	return m.configPath
}

// Update applies a function to the configuration and saves it
func (m *Manager) Update(fn func(*models.Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.config
	fn(&next)

	if err := Validate(&next); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	m.config = &next
	return m.save()
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.save()
}

// load reads configuration from disk, substituting ${VAR} references
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	// Keys missing from the file keep their defaults
	cfg := models.DefaultConfig()
	if _, err := toml.Decode(content, cfg); err != nil {
		return fmt.Errorf("failed to parse config TOML: %w", err)
	}

	m.config = mergeWithDefaults(cfg, filepath.Dir(m.configPath))
	return nil
}

// save writes configuration to disk (must be called with lock held)
func (m *Manager) save() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m.config); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// mergeWithDefaults fills in default values for missing fields.
// Empty directories are resolved below dataDir.
func mergeWithDefaults(cfg *models.Config, dataDir string) *models.Config {
	defaults := models.DefaultConfig()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}

	if cfg.Engine.UtilsDir == "" {
		cfg.Engine.UtilsDir = filepath.Join(dataDir, "utils")
	}
	if cfg.Engine.ReleaseChannel == "" {
		cfg.Engine.ReleaseChannel = defaults.Engine.ReleaseChannel
	}
	if cfg.Engine.ReadyTimeout == 0 {
		cfg.Engine.ReadyTimeout = defaults.Engine.ReadyTimeout
	}
	if cfg.Engine.PollInterval == 0 {
		cfg.Engine.PollInterval = defaults.Engine.PollInterval
	}

	if cfg.Download.OutputDir == "" {
		cfg.Download.OutputDir = filepath.Join(dataDir, "downloads")
	}
	if cfg.Download.MaxConcurrent == 0 {
		cfg.Download.MaxConcurrent = defaults.Download.MaxConcurrent
	}
	cfg.Download.Tuning = mergeTuning(cfg.Download.Tuning, defaults.Download.Tuning)

	if cfg.Extract.Renderer == "" {
		cfg.Extract.Renderer = defaults.Extract.Renderer
	}
	if cfg.Extract.UserAgent == "" {
		cfg.Extract.UserAgent = defaults.Extract.UserAgent
	}
	if cfg.Extract.Timeout == 0 {
		cfg.Extract.Timeout = defaults.Extract.Timeout
	}
	if cfg.Extract.CaptionLimit == 0 {
		cfg.Extract.CaptionLimit = defaults.Extract.CaptionLimit
	}
	if cfg.Extract.DelegateDir == "" {
		cfg.Extract.DelegateDir = cfg.Download.OutputDir
	}

	return cfg
}

func mergeTuning(t, defaults models.TuningConfig) models.TuningConfig {
	if t.Connections == 0 {
		t.Connections = defaults.Connections
	}
	if t.Splits == 0 {
		t.Splits = defaults.Splits
	}
	if t.ChunkSize == "" {
		t.ChunkSize = defaults.ChunkSize
	}
	if t.ConcurrentJobs == 0 {
		t.ConcurrentJobs = defaults.ConcurrentJobs
	}
	if t.MinSplitSize == "" {
		t.MinSplitSize = defaults.MinSplitSize
	}
	if t.ConnectTimeout == 0 {
		t.ConnectTimeout = defaults.ConnectTimeout
	}
	if t.Timeout == 0 {
		t.Timeout = defaults.Timeout
	}
	if t.MaxFileNotFound == 0 {
		t.MaxFileNotFound = defaults.MaxFileNotFound
	}
	if t.MaxTries == 0 {
		t.MaxTries = defaults.MaxTries
	}
	if t.RetryWait == 0 {
		t.RetryWait = defaults.RetryWait
	}
	if t.Retries == 0 {
		t.Retries = defaults.Retries
	}
	if t.FragmentRetries == 0 {
		t.FragmentRetries = defaults.FragmentRetries
	}
	if t.BufferSize == "" {
		t.BufferSize = defaults.BufferSize
	}
	return t
}

// Validate checks if the configuration is valid. Every problem found is
// reported, joined into one error.
func Validate(cfg *models.Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if !validLogLevels[cfg.Server.LogLevel] {
		errs = append(errs, ErrInvalidLogLevel)
	}

	if cfg.Engine.ReadyTimeout < time.Second || cfg.Engine.ReadyTimeout > 5*time.Minute {
		errs = append(errs, ErrInvalidReadyTimeout)
	}
	if cfg.Engine.PollInterval <= 0 || cfg.Engine.PollInterval >= cfg.Engine.ReadyTimeout {
		errs = append(errs, ErrInvalidPollInterval)
	}
	if cfg.Engine.ReleaseChannel != models.ChannelStable && cfg.Engine.ReleaseChannel != models.ChannelNightly {
		errs = append(errs, ErrInvalidChannel)
	}

	if cfg.Download.MaxConcurrent < 1 {
		errs = append(errs, ErrInvalidConcurrency)
	}

	if cfg.Extract.Renderer != models.RendererRod && cfg.Extract.Renderer != models.RendererStatic {
		errs = append(errs, ErrInvalidRenderer)
	}
	if cfg.Extract.CaptionLimit < 1 {
		errs = append(errs, ErrInvalidCaptionLimit)
	}

	return errors.Join(errs...)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if home := os.Getenv("STREAMSAVER_HOME"); home != "" {
		os.MkdirAll(home, 0755)
		return home
	}

	if home, err := os.UserHomeDir(); err == nil {
		dataDir := filepath.Join(home, ".streamsaver")
		os.MkdirAll(dataDir, 0755)
		return dataDir
	}

	return "."
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "config.toml")
}
