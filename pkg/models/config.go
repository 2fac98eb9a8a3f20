package models

import "time"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Download DownloadConfig `toml:"download"`
	Extract  ExtractConfig  `toml:"extract"`
}

type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
}

// EngineConfig locates the native binaries and tunes the readiness gate
type EngineConfig struct {
	YtdlpPath      string        `toml:"ytdlp_path"`
	FfmpegPath     string        `toml:"ffmpeg_path"`
	Aria2cPath     string        `toml:"aria2c_path"`
	UtilsDir       string        `toml:"utils_dir"`
	ReleaseChannel string        `toml:"release_channel"`
	AutoUpdate     bool          `toml:"auto_update"`
	ReadyTimeout   time.Duration `toml:"ready_timeout"`
	PollInterval   time.Duration `toml:"poll_interval"`
}

type DownloadConfig struct {
	OutputDir     string       `toml:"output_dir"`
	MaxConcurrent int          `toml:"max_concurrent"`
	Tuning        TuningConfig `toml:"tuning"`
}

// TuningConfig is the fixed profile handed to the external downloader
// and the engine's own network layer
type TuningConfig struct {
	Connections     int           `toml:"connections"`
	Splits          int           `toml:"splits"`
	ChunkSize       string        `toml:"chunk_size"`
	ConcurrentJobs  int           `toml:"concurrent_jobs"`
	MinSplitSize    string        `toml:"min_split_size"`
	ConnectTimeout  time.Duration `toml:"connect_timeout"`
	Timeout         time.Duration `toml:"timeout"`
	MaxFileNotFound int           `toml:"max_file_not_found"`
	MaxTries        int           `toml:"max_tries"`
	RetryWait       time.Duration `toml:"retry_wait"`
	Retries         int           `toml:"retries"`
	FragmentRetries int           `toml:"fragment_retries"`
	BufferSize      string        `toml:"buffer_size"`
}

type ExtractConfig struct {
	Renderer      string        `toml:"renderer"`
	RemoteURL     string        `toml:"remote_url"`
	UserAgent     string        `toml:"user_agent"`
	Timeout       time.Duration `toml:"timeout"`
	CaptionLimit  int           `toml:"caption_limit"`
	SelectorsPath string        `toml:"selectors_path"`
	DelegateDir   string        `toml:"delegate_dir"`
}

const (
	RendererRod    = "rod"
	RendererStatic = "static"

	ChannelStable  = "stable"
	ChannelNightly = "nightly"
)

// MobileUserAgent is the identity the page renderer presents
const MobileUserAgent = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"

// DefaultTuning returns the download tuning profile
func DefaultTuning() TuningConfig {
	return TuningConfig{
		Connections:     16,
		Splits:          16,
		ChunkSize:       "5M",
		ConcurrentJobs:  5,
		MinSplitSize:    "1M",
		ConnectTimeout:  10 * time.Second,
		Timeout:         60 * time.Second,
		MaxFileNotFound: 5,
		MaxTries:        5,
		RetryWait:       2 * time.Second,
		Retries:         10,
		FragmentRetries: 10,
		BufferSize:      "32K",
	}
}

// DefaultConfig returns a configuration with default values.
// Directory fields are left empty and resolved against the data dir on load.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     9797,
			LogLevel: "info",
		},
		Engine: EngineConfig{
			ReleaseChannel: ChannelStable,
			AutoUpdate:     true,
			ReadyTimeout:   10 * time.Second,
			PollInterval:   500 * time.Millisecond,
		},
		Download: DownloadConfig{
			MaxConcurrent: 4,
			Tuning:        DefaultTuning(),
		},
		Extract: ExtractConfig{
			Renderer:     RendererRod,
			UserAgent:    MobileUserAgent,
			Timeout:      30 * time.Second,
			CaptionLimit: 2000,
		},
	}
}
