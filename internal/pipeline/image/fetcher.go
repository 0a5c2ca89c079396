// Package image downloads attachment bytes, validates that they hold a
// supported raster image, and encodes them for the vision model.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/lens/internal/core/fault"
)

const (
	// MinSize guards against truncated uploads and placeholder files.
	MinSize = 1 << 10
	// MaxSize caps what we are willing to base64 into a prompt.
	MaxSize = 20 << 20
)

// Format is a detected image container format.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// MIME returns the MIME type for a detected format.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Config tunes the fetcher.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	MaxSize int64         `yaml:"max_size"`
}

// Fetcher downloads and checks attachment content.
type Fetcher struct {
	httpClient *http.Client
	maxSize    int64
	log        *slog.Logger
}

// NewFetcher builds a fetcher with sane defaults for zero-value config.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = MaxSize
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxSize:    cfg.MaxSize,
		log:        slog.Default().With("component", "image"),
	}
}

// Download fetches the attachment bytes. Reads at most maxSize+1 bytes so
// oversized content is caught without buffering the whole body.
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fault.Validation("attachment has no URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Invalid(fmt.Sprintf("bad attachment URL: %s", url), fault.WithCause(err))
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Timeout("attachment download timed out", fault.WithCause(err))
		}
		return nil, fault.Network("attachment download failed", fault.WithCause(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fault.Validation(fmt.Sprintf("attachment gone (%d)", resp.StatusCode),
			fault.WithDetail("url", url))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.Network(fmt.Sprintf("attachment host error %d", resp.StatusCode),
			fault.WithDetail("url", url))
	default:
		return nil, fault.Validation(fmt.Sprintf("attachment fetch rejected (%d)", resp.StatusCode),
			fault.WithDetail("url", url))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fault.Network("attachment read failed", fault.WithCause(err))
	}

	f.log.Debug("Downloaded attachment",
		"bytes", len(data),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return data, nil
}

// Validate checks size bounds and magic bytes. Size violations are
// content-validation faults; unrecognized bytes are content-format faults.
// Neither is retryable.
func (f *Fetcher) Validate(data []byte) (Format, error) {
	if int64(len(data)) < MinSize {
		return FormatUnknown, fault.Validation(
			fmt.Sprintf("image too small: %d bytes (min %d)", len(data), MinSize))
	}
	if int64(len(data)) > f.maxSize {
		return FormatUnknown, fault.Validation(
			fmt.Sprintf("image too large: %d bytes (max %d)", len(data), f.maxSize))
	}

	format := DetectFormat(data)
	if format == FormatUnknown {
		return FormatUnknown, fault.Format("content is not a supported image format")
	}
	return format, nil
}

// EncodeBase64 renders the payload as a data URL for the vision prompt.
func EncodeBase64(data []byte, format Format) string {
	return "data:" + format.MIME() + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DetectFormat sniffs the container format from magic bytes.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}):
		return FormatPNG
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return FormatGIF
	case len(data) >= 2 && bytes.Equal(data[:2], []byte("BM")):
		return FormatBMP
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	default:
		return FormatUnknown
	}
}
