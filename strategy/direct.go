package strategy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/probe"
	"github.com/aluiziolira/go-fetch-images/validator"
)

// DefaultDirectTimeout bounds the image download.
const DefaultDirectTimeout = 500 * time.Millisecond

// Direct downloads the caller supplied image URL and probes it.
type Direct struct {
	fetcher fetch.Fetcher
	timeout time.Duration
}

// NewDirect returns the direct URL strategy.
func NewDirect(fetcher fetch.Fetcher, timeout time.Duration) *Direct {
	if timeout <= 0 {
		timeout = DefaultDirectTimeout
	}
	return &Direct{fetcher: fetcher, timeout: timeout}
}

func (d *Direct) Name() string  { return "direct" }
func (d *Direct) Priority() int { return PriorityDirect }

// CanHandle reports whether an image URL was supplied.
func (d *Direct) CanHandle(req models.FetchRequest) bool {
	return strings.TrimSpace(req.ImageURL) != ""
}

// Fetch returns exactly one result on success. Invalid URLs and timeouts are
// returned as errors; other fetch failures yield no results.
func (d *Direct) Fetch(ctx context.Context, req models.FetchRequest) ([]models.ImageResult, error) {
	imageURL := validator.NormalizeImageURL(req.ImageURL)
	if err := validator.ValidateImageURL(imageURL); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := d.fetcher.Fetch(ctx, fetch.Request{URL: imageURL, Timeout: d.timeout, Kind: "image"})
	loading := elapsedMs(start)
	if err != nil {
		if fetch.IsTimeout(err) {
			return nil, &models.TimeoutError{URL: imageURL, Err: err}
		}
		slog.Warn("direct image fetch failed",
			slog.String("url", imageURL),
			slog.String("category", fetch.ErrorTypeLabel(err)),
			slog.Any("error", err),
		)
		return nil, nil
	}
	if len(resp.Body) == 0 {
		slog.Warn("direct image empty", slog.String("url", imageURL))
		return nil, nil
	}

	meta := probe.Probe(resp.Body)
	return []models.ImageResult{{
		URL:           imageURL,
		Source:        models.SourceDirect,
		LoadingTimeMs: loading,
		Resolution:    meta.Resolution,
		FileSizeBytes: meta.SizeBytes,
	}}, nil
}
