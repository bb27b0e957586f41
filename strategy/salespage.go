package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-fetch-images/extract"
	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/probe"
	"github.com/aluiziolira/go-fetch-images/validator"
)

// Sales page defaults.
const (
	DefaultSalesPageTimeout  = 200 * time.Millisecond
	DefaultSalesImageTimeout = 50 * time.Millisecond
	DefaultMaxResults        = 3
)

// SalesPageOptions tunes the sales page strategy.
type SalesPageOptions struct {
	PageTimeout  time.Duration
	ImageTimeout time.Duration
	MaxResults   int
	UserAgent    string
}

// SalesPage scrapes representative images from a product page.
type SalesPage struct {
	fetcher fetch.Fetcher
	engine  *extract.Engine
	opts    SalesPageOptions
}

// NewSalesPage returns the sales page strategy. Zero options take defaults.
func NewSalesPage(fetcher fetch.Fetcher, engine *extract.Engine, opts SalesPageOptions) *SalesPage {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = DefaultSalesPageTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = DefaultSalesImageTimeout
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.UserAgent == "" {
		opts.UserAgent = fetch.DefaultUserAgent
	}
	return &SalesPage{fetcher: fetcher, engine: engine, opts: opts}
}

func (s *SalesPage) Name() string  { return "sales_page" }
func (s *SalesPage) Priority() int { return PrioritySalesPage }

// CanHandle reports whether a sales page URL was supplied.
func (s *SalesPage) CanHandle(req models.FetchRequest) bool {
	return strings.TrimSpace(req.SalesURL) != ""
}

// Fetch downloads the page, selects candidate images and probes each one concurrently.
//
// HTTP status failures on the page are returned as errors: 4xx as
// InvalidURLError and anything else as NotAccessibleError. Timeouts and
// connection failures yield no results.
func (s *SalesPage) Fetch(ctx context.Context, req models.FetchRequest) ([]models.ImageResult, error) {
	pageURL := strings.TrimSpace(req.SalesURL)
	if err := validator.ValidateSalesURL(pageURL); err != nil {
		return nil, err
	}

	resp, err := s.fetcher.Fetch(ctx, fetch.Request{
		URL:     pageURL,
		Headers: map[string]string{"User-Agent": s.opts.UserAgent},
		Timeout: s.opts.PageTimeout,
		Kind:    "page",
	})
	if err != nil {
		if status, ok := fetch.StatusOf(err); ok {
			if status.ClientError() {
				return nil, &models.InvalidURLError{
					URL:    pageURL,
					Reason: fmt.Sprintf("sales page returned status %d", status.StatusCode),
					Err:    err,
				}
			}
			return nil, &models.NotAccessibleError{URL: pageURL, StatusCode: status.StatusCode, Err: err}
		}
		slog.Warn("sales page fetch failed",
			slog.String("url", pageURL),
			slog.String("category", fetch.ErrorTypeLabel(err)),
			slog.Any("error", err),
		)
		return nil, nil
	}

	html := string(resp.Body)
	if strings.TrimSpace(html) == "" {
		slog.Warn("sales page empty", slog.String("url", pageURL))
		return nil, nil
	}

	candidates := s.engine.SelectRepresentativeImages(html, s.opts.MaxResults)
	if len(candidates) == 0 {
		slog.Debug("no images on sales page", slog.String("url", pageURL))
		return nil, nil
	}

	results := make([]models.ImageResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.opts.MaxResults)
	for i, candidate := range candidates {
		imageURL := validator.ResolveImageURL(pageURL, candidate)
		g.Go(func() error {
			results[i] = s.probeImage(ctx, imageURL)
			return nil
		})
	}
	// probeImage never fails.
	_ = g.Wait()

	return results, nil
}

// probeImage never fails; an unreachable image is reported with unknown metadata.
func (s *SalesPage) probeImage(ctx context.Context, imageURL string) models.ImageResult {
	result := models.ImageResult{
		URL:        imageURL,
		Source:     models.SourceSalesURL,
		Resolution: models.UnknownResolution,
	}

	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, fetch.Request{
		URL:     imageURL,
		Headers: map[string]string{"User-Agent": s.opts.UserAgent},
		Timeout: s.opts.ImageTimeout,
		Kind:    "image",
	})
	result.LoadingTimeMs = elapsedMs(start)
	if err != nil {
		slog.Debug("sales image probe failed",
			slog.String("url", imageURL),
			slog.String("category", fetch.ErrorTypeLabel(err)),
		)
		return result
	}

	meta := probe.Probe(resp.Body)
	result.Resolution = meta.Resolution
	result.FileSizeBytes = meta.SizeBytes
	return result
}
