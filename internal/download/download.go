// Package download fetches model files over HTTP with sha256 verification.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

var ErrChecksumMismatch = errors.New("checksum mismatch")

// Asset is one file to fetch. SHA256 wins over ChecksumURL when both are set.
type Asset struct {
	URL         string
	Destination string
	SHA256      string
	ChecksumURL string
}

type Options struct {
	Retries    int
	Backoff    time.Duration
	NoProgress bool
	UserAgent  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Downloader struct {
	client     *http.Client
	retries    int
	backoff    time.Duration
	noProgress bool
	userAgent  string
	logger     *zap.Logger
}

func New(opts Options) *Downloader {
	d := &Downloader{
		client:     opts.HTTPClient,
		retries:    opts.Retries,
		backoff:    opts.Backoff,
		noProgress: opts.NoProgress,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 30 * time.Minute}
	}
	if d.retries <= 0 {
		d.retries = 3
	}
	if d.backoff <= 0 {
		d.backoff = 300 * time.Millisecond
	}
	if d.userAgent == "" {
		d.userAgent = "voxkey/1"
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// httpStatusError marks responses that retrying cannot fix.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.status)
}

func (e *httpStatusError) permanent() bool {
	return e.status >= 400 && e.status < 500 && e.status != http.StatusTooManyRequests
}

// Fetch downloads the asset into place atomically. Partial files never
// appear at Destination.
func (d *Downloader) Fetch(ctx context.Context, asset Asset) error {
	if asset.URL == "" {
		return errors.New("download URL is required")
	}
	if asset.Destination == "" {
		return errors.New("destination path is required")
	}

	expected := strings.ToLower(strings.TrimSpace(asset.SHA256))
	if expected == "" && asset.ChecksumURL != "" {
		resolved, err := d.ResolveChecksum(ctx, asset.ChecksumURL, filepath.Base(asset.Destination))
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	if err := os.MkdirAll(filepath.Dir(asset.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if attempt > 1 {
			d.logger.Warn("retrying download", zap.Int("attempt", attempt), zap.Int("max", d.retries), zap.String("url", asset.URL), zap.Error(lastErr))
			if err := sleepCtx(ctx, time.Duration(attempt)*d.backoff); err != nil {
				return err
			}
		}

		lastErr = d.fetchOnce(ctx, asset, expected)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		var statusErr *httpStatusError
		if errors.As(lastErr, &statusErr) && statusErr.permanent() {
			return lastErr
		}
	}

	return lastErr
}

// ResolveChecksum reads a checksum listing and picks the entry for fileName.
func (d *Downloader) ResolveChecksum(ctx context.Context, checksumURL, fileName string) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{status: resp.StatusCode}
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	return ParseChecksum(content, fileName)
}

func ParseChecksum(content []byte, fileName string) (string, error) {
	lines := strings.Split(string(content), "\n")

	if fileName != "" {
		for _, line := range lines {
			if !strings.Contains(line, fileName) {
				continue
			}
			if checksum := parseChecksumFromLine(line); checksum != "" {
				return checksum, nil
			}
		}
	}

	for _, line := range lines {
		if checksum := parseChecksumFromLine(line); checksum != "" {
			return checksum, nil
		}
	}

	return "", errors.New("sha256 checksum not found")
}

// VerifyFileChecksum accepts any content when expectedSHA256 is empty.
func VerifyFileChecksum(path, expectedSHA256 string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if expected == "" {
		return nil
	}

	actual, err := FileChecksum(path)
	if err != nil {
		return err
	}

	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}

	return nil
}

func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseChecksumFromLine(line string) string {
	match := checksumPattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

func (d *Downloader) fetchOnce(ctx context.Context, asset Asset, expectedChecksum string) error {
	tempPath := asset.Destination + ".part"
	_ = os.Remove(tempPath)

	outFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		_ = outFile.Close()
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode}
	}

	hash := sha256.New()
	writer := io.MultiWriter(outFile, hash)

	var bar *progressbar.ProgressBar
	if shouldRenderProgress(d.noProgress, resp.ContentLength) {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription("downloading "+filepath.Base(asset.Destination)),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		writer = io.MultiWriter(outFile, hash, bar)
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}

	actualChecksum := hex.EncodeToString(hash.Sum(nil))
	if expectedChecksum != "" && actualChecksum != expectedChecksum {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedChecksum, actualChecksum)
	}

	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, asset.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	success = true
	d.logger.Debug("download complete", zap.String("path", asset.Destination), zap.String("sha256", actualChecksum))
	return nil
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress {
		return false
	}
	if contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
