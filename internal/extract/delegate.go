package extract

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"streamsaver/internal/downloader"
)

const (
	delegateUserAgent = "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36"
	delegateNameLen   = 50
	delegateExtension = ".mp4"
)

// HTTPDelegate hands resolved media URLs to a background HTTP download,
// the stand-in for a platform download manager. Callers are not told how
// the transfer ends; outcomes are only logged.
type HTTPDelegate struct {
	dir    string
	client *http.Client
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewHTTPDelegate saves delegated downloads into dir
func NewHTTPDelegate(dir string, client *http.Client, logger *slog.Logger) *HTTPDelegate {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPDelegate{dir: dir, client: client, ctx: ctx, cancel: cancel, logger: logger}
}

// DelegateFilename is the file name a delegated download is saved under
func DelegateFilename(name string) string {
	return downloader.Truncate(downloader.SanitizeTitle(name), delegateNameLen) + delegateExtension
}

// Enqueue starts the download and returns its destination immediately
func (d *HTTPDelegate) Enqueue(ctx context.Context, mediaURL, name string) (string, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create delegate directory: %w", err)
	}
	dest := filepath.Join(d.dir, DelegateFilename(name))

	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid media url: %w", err)
	}
	req.Header.Set("User-Agent", delegateUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "keep-alive")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		started := time.Now()
		logger := d.logger.With("url", mediaURL, "path", dest)
		if err := d.fetch(req, dest); err != nil {
			logger.Warn("delegated download failed", "error", err)
			return
		}
		logger.Info("delegated download finished", "duration", time.Since(started))
	}()

	return dest, nil
}

func (d *HTTPDelegate) fetch(req *http.Request, dest string) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	// Accept-Encoding was set by hand, so the transport will not decode it.
	var body io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("bad gzip stream: %w", err)
		}
		defer gz.Close()
		body = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("bad deflate stream: %w", err)
		}
		defer zr.Close()
		body = zr
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	_, err = io.Copy(out, body)
	out.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp, dest)
}

// Wait blocks until every delegated download has ended
func (d *HTTPDelegate) Wait() {
	d.wg.Wait()
}

// Close aborts delegated downloads still running and waits for them
func (d *HTTPDelegate) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
