package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

var ErrBinaryNotFound = errors.New("binary not found")

// Paths are the absolute locations of the native binaries
type Paths struct {
	Ytdlp  string `json:"ytdlp"`
	Ffmpeg string `json:"ffmpeg"`
	Aria2c string `json:"aria2c"`
}

// Toolchain records binary locations as the initialization steps resolve them
type Toolchain struct {
	mu    sync.RWMutex
	paths Paths
}

// Paths returns a snapshot
func (t *Toolchain) Paths() Paths {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paths
}

// Ytdlp returns the extraction engine path, empty until resolved
func (t *Toolchain) Ytdlp() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paths.Ytdlp
}

func (t *Toolchain) set(fn func(*Paths)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.paths)
}

// ResolveBinary returns an absolute path for a binary. A configured path
// must exist; otherwise name is looked up on PATH.
func ResolveBinary(configured, name string) (string, error) {
	path := configured
	if path == "" {
		found, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
		}
		path = found
	} else if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
	}
	return filepath.Abs(path)
}

// Installer provides the extraction engine binary
type Installer interface {
	EnsureInstalled(ctx context.Context) error
	GetYtdlpPath() string
}

// ExtractionStep installs (if needed) and verifies the extraction engine
func ExtractionStep(installer Installer, tc *Toolchain, eng *Engine) Step {
	return Step{
		Name: "extraction engine",
		Run: func(ctx context.Context) error {
			if err := installer.EnsureInstalled(ctx); err != nil {
				return err
			}
			path, err := filepath.Abs(installer.GetYtdlpPath())
			if err != nil {
				return err
			}
			tc.set(func(p *Paths) { p.Ytdlp = path })

			if _, err := eng.Version(ctx); err != nil {
				return fmt.Errorf("engine did not start: %w", err)
			}
			return nil
		},
	}
}

// TranscodingStep resolves and probes ffmpeg, then the external
// downloader delegate shipped alongside it
func TranscodingStep(ffmpegPath, aria2cPath string, tc *Toolchain) Step {
	return Step{
		Name: "transcoding engine",
		Run: func(ctx context.Context) error {
			ffmpeg, err := ResolveBinary(ffmpegPath, "ffmpeg")
			if err != nil {
				return err
			}
			if err := exec.CommandContext(ctx, ffmpeg, "-version").Run(); err != nil {
				return fmt.Errorf("ffmpeg did not start: %w", err)
			}

			aria2c, err := ResolveBinary(aria2cPath, "aria2c")
			if err != nil {
				return err
			}

			tc.set(func(p *Paths) {
				p.Ffmpeg = ffmpeg
				p.Aria2c = aria2c
			})
			return nil
		},
	}
}
