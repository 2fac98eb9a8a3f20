// Package ytdl installs and updates the yt-dlp extraction engine binary.
package ytdl

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"streamsaver/pkg/models"
)

const (
	stableAPI    = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"
	nightlyAPI   = "https://api.github.com/repos/yt-dlp/yt-dlp-nightly-builds/releases/latest"
	checksumName = "SHA2-256SUMS"
	versionFile  = "yt-dlp.version"
	checkTimeout = 30 * time.Second
)

var (
	ErrNoAsset          = errors.New("no asset found for platform")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrNotInstalled     = errors.New("yt-dlp is not installed")
	ErrPinnedBinary     = errors.New("yt-dlp binary is configured explicitly")
)

// UpdateStatus reports the outcome of an update run
type UpdateStatus string

const (
	StatusUpToDate UpdateStatus = "UP_TO_DATE"
	StatusDone     UpdateStatus = "DONE"
)

// HTTPClient interface for mocking
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager handles yt-dlp installation and updates
type Manager struct {
	mu             sync.Mutex
	installMu      sync.Mutex
	utilsDir       string
	binaryPath     string
	releaseAPI     string
	currentVersion string
	lastCheckTime  time.Time
	httpClient     HTTPClient
	logger         *slog.Logger
}

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Option configures a Manager
type Option func(*Manager)

// WithBinaryPath pins the yt-dlp executable to an explicit location
func WithBinaryPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.binaryPath = path
		}
	}
}

// WithChannel selects the stable or nightly release feed
func WithChannel(channel string) Option {
	return func(m *Manager) {
		if channel == models.ChannelNightly {
			m.releaseAPI = nightlyAPI
		} else {
			m.releaseAPI = stableAPI
		}
	}
}

// WithHTTPClient replaces the HTTP client used for release lookups
func WithHTTPClient(client HTTPClient) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new yt-dlp manager
func NewManager(utilsDir string, opts ...Option) *Manager {
	os.MkdirAll(utilsDir, 0755)

	m := &Manager{
		utilsDir:   utilsDir,
		releaseAPI: stableAPI,
		httpClient: &http.Client{Timeout: checkTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if data, err := os.ReadFile(m.versionPath()); err == nil {
		m.currentVersion = strings.TrimSpace(string(data))
	}

	return m
}

// NewManagerWithClient creates a manager with a custom HTTP client
func NewManagerWithClient(utilsDir string, client HTTPClient) *Manager {
	return NewManager(utilsDir, WithHTTPClient(client))
}

// GetYtdlpPath returns the path to yt-dlp executable
func (m *Manager) GetYtdlpPath() string {
	if m.binaryPath != "" {
		return m.binaryPath
	}
	return filepath.Join(m.utilsDir, detectPlatform())
}

// IsInstalled checks if yt-dlp is installed
func (m *Manager) IsInstalled() bool {
	_, err := os.Stat(m.GetYtdlpPath())
	return err == nil
}

// GetCurrentVersion returns the currently installed version
func (m *Manager) GetCurrentVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentVersion
}

// LastCheck returns when the release feed was last queried
func (m *Manager) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheckTime
}

// CheckForUpdate checks if a newer version is available
func (m *Manager) CheckForUpdate(ctx context.Context) (string, bool, error) {
	release, err := m.fetchRelease(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to check for updates: %w", err)
	}

	m.mu.Lock()
	m.lastCheckTime = time.Now()
	current := m.currentVersion
	m.mu.Unlock()

	// If not installed, any version is an update
	if !m.IsInstalled() {
		return release.TagName, true, nil
	}

	if current == "" || current != release.TagName {
		return release.TagName, true, nil
	}

	return release.TagName, false, nil
}

// Download downloads and installs the latest yt-dlp
func (m *Manager) Download(ctx context.Context) error {
	release, err := m.fetchRelease(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch release info: %w", err)
	}
	return m.install(ctx, release)
}

// install writes release over the managed binary. Concurrent installs are
// serialized, and a release that landed while waiting is not fetched again.
func (m *Manager) install(ctx context.Context, release *GitHubRelease) error {
	if m.binaryPath != "" {
		return fmt.Errorf("%w: %s", ErrPinnedBinary, m.binaryPath)
	}

	m.installMu.Lock()
	defer m.installMu.Unlock()

	if m.IsInstalled() && m.GetCurrentVersion() == release.TagName {
		m.logger.Debug("yt-dlp already installed", "version", release.TagName)
		return nil
	}

	platform := detectPlatform()
	var downloadURL, checksumURL string
	for _, asset := range release.Assets {
		switch asset.Name {
		case platform:
			downloadURL = asset.BrowserDownloadURL
		case checksumName:
			checksumURL = asset.BrowserDownloadURL
		}
	}

	if downloadURL == "" {
		return fmt.Errorf("%w: %s", ErrNoAsset, platform)
	}

	m.logger.Info("downloading yt-dlp", "version", release.TagName, "asset", platform)
	resp, err := m.get(ctx, downloadURL)
	if err != nil {
		return fmt.Errorf("failed to download yt-dlp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ytdlpPath := m.GetYtdlpPath()
	if err := os.MkdirAll(filepath.Dir(ytdlpPath), 0755); err != nil {
		return fmt.Errorf("failed to create utils directory: %w", err)
	}
	tmpPath := ytdlpPath + ".tmp"

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if checksumURL != "" {
		expected, err := m.fetchChecksum(ctx, checksumURL, platform)
		if err != nil {
			os.Remove(tmpPath)
			return err
		}
		if err := VerifyChecksum(tmpPath, expected); err != nil {
			os.Remove(tmpPath)
			return err
		}
	}

	if err := os.Chmod(tmpPath, 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to make executable: %w", err)
	}

	if m.IsInstalled() {
		if err := os.Remove(ytdlpPath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to remove old file: %w", err)
		}
	}

	if err := os.Rename(tmpPath, ytdlpPath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	m.mu.Lock()
	m.currentVersion = release.TagName
	m.mu.Unlock()
	if err := os.WriteFile(m.versionPath(), []byte(release.TagName), 0644); err != nil {
		m.logger.Warn("failed to record yt-dlp version", "error", err)
	}

	m.logger.Info("yt-dlp installed", "version", release.TagName, "path", ytdlpPath)
	return nil
}

// EnsureInstalled ensures yt-dlp is installed, downloading if necessary.
// An explicitly configured binary is never downloaded over.
func (m *Manager) EnsureInstalled(ctx context.Context) error {
	if m.IsInstalled() {
		return nil
	}
	if m.binaryPath != "" {
		return fmt.Errorf("%w: %s", ErrNotInstalled, m.binaryPath)
	}

	m.logger.Info("yt-dlp not found, downloading")
	return m.Download(ctx)
}

// Update checks for and applies updates if available. A configured
// binary belongs to the user and is left alone.
func (m *Manager) Update(ctx context.Context) (UpdateStatus, error) {
	if m.binaryPath != "" {
		m.logger.Info("skipping yt-dlp update for configured binary", "path", m.binaryPath)
		return StatusUpToDate, nil
	}

	release, err := m.fetchRelease(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check for updates: %w", err)
	}

	m.mu.Lock()
	m.lastCheckTime = time.Now()
	current := m.currentVersion
	m.mu.Unlock()

	if m.IsInstalled() && current == release.TagName {
		m.logger.Debug("yt-dlp is up to date", "version", current)
		return StatusUpToDate, nil
	}

	m.logger.Info("updating yt-dlp", "from", current, "to", release.TagName)
	if err := m.install(ctx, release); err != nil {
		return "", err
	}
	return StatusDone, nil
}

func (m *Manager) fetchRelease(ctx context.Context) (*GitHubRelease, error) {
	resp, err := m.get(ctx, m.releaseAPI)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}
	return &release, nil
}

// fetchChecksum looks up the digest for assetName in a SHA2-256SUMS listing
func (m *Manager) fetchChecksum(ctx context.Context, url, assetName string) (string, error) {
	resp, err := m.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch checksums: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("checksum download failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[1] == assetName {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read checksums: %w", err)
	}
	return "", fmt.Errorf("%w: no checksum listed for %s", ErrChecksumMismatch, assetName)
}

func (m *Manager) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	return m.httpClient.Do(req)
}

func (m *Manager) versionPath() string {
	return filepath.Join(m.utilsDir, versionFile)
}

// VerifyChecksum verifies the SHA-256 checksum of a file
func VerifyChecksum(filePath, expectedChecksum string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return err
	}
	actualChecksum := hex.EncodeToString(hash.Sum(nil))

	if !strings.EqualFold(actualChecksum, expectedChecksum) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedChecksum, actualChecksum)
	}

	return nil
}

// detectPlatform returns the appropriate yt-dlp binary name for the current platform
func detectPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return "yt-dlp.exe"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "yt-dlp_linux_aarch64"
		}
		return "yt-dlp_linux"
	case "darwin":
		return "yt-dlp_macos"
	default:
		return "yt-dlp"
	}
}
