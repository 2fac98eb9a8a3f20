package downloader

import (
	"fmt"
	"path/filepath"
	"strconv"

	"streamsaver/internal/engine"
	"streamsaver/pkg/models"
)

const (
	audioExtension = "mp3"
	videoExtension = "mp4"
)

// Invocation is a fully built engine call
type Invocation struct {
	Args       []string
	OutputPath string
}

// Builder constructs download invocations. It does no I/O.
type Builder struct {
	outputDir string
	tuning    models.TuningConfig
	paths     engine.Paths
}

// NewBuilder creates a builder writing into outputDir with the given
// native binary locations
func NewBuilder(outputDir string, tuning models.TuningConfig, paths engine.Paths) *Builder {
	return &Builder{outputDir: outputDir, tuning: tuning, paths: paths}
}

// Build returns the invocation for one download.
//
// The network flags force IPv4, skip certificate validation and bypass
// geo restrictions. They trade transport security for availability and
// are not a security feature.
func (b *Builder) Build(url, formatID string, isAudioOnly bool, titleHint string) Invocation {
	ext := videoExtension
	if isAudioOnly {
		ext = audioExtension
	}
	outputPath := filepath.Join(b.outputDir, SanitizeTitle(titleHint)+"."+ext)

	t := b.tuning
	args := []string{"-o", outputPath}

	if b.paths.Aria2c != "" {
		args = append(args,
			"--downloader", b.paths.Aria2c,
			"--external-downloader-args", b.aria2cArgs(),
		)
	}

	args = append(args,
		"--force-ipv4",
		"--no-check-certificate",
		"--geo-bypass",
		"--no-playlist",
		"--no-warnings",
		"--ignore-errors",
		"--buffer-size", t.BufferSize,
		"--retries", strconv.Itoa(t.Retries),
		"--fragment-retries", strconv.Itoa(t.FragmentRetries),
		"--add-metadata",
		"--newline",
	)

	if b.paths.Ffmpeg != "" {
		args = append(args, "--ffmpeg-location", b.paths.Ffmpeg)
	}

	if isAudioOnly {
		args = append(args, "-f", "bestaudio", "-x", "--audio-format", audioExtension)
	} else {
		args = append(args, "-f", formatID+"+bestaudio/best", "--merge-output-format", videoExtension)
	}

	args = append(args, url)

	return Invocation{Args: args, OutputPath: outputPath}
}

func (b *Builder) aria2cArgs() string {
	t := b.tuning
	return fmt.Sprintf("aria2c:-x %d -s %d -k %s -j %d --min-split-size=%s --connect-timeout=%d --timeout=%d --max-file-not-found=%d --max-tries=%d --retry-wait=%d",
		t.Connections,
		t.Splits,
		t.ChunkSize,
		t.ConcurrentJobs,
		t.MinSplitSize,
		int(t.ConnectTimeout.Seconds()),
		int(t.Timeout.Seconds()),
		t.MaxFileNotFound,
		t.MaxTries,
		int(t.RetryWait.Seconds()),
	)
}
