package strategy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-fetch-images/extract"
	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/throttle"
	"github.com/aluiziolira/go-fetch-images/validator"
)

// Channel search defaults.
const (
	DefaultChannelSearchTimeout = 300 * time.Millisecond
	DefaultChannelMinInterval   = 200 * time.Millisecond
)

// searchAcceptLanguage matches what a Korean desktop browser sends.
const searchAcceptLanguage = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"

// ChannelSearchOptions tunes the channel search strategy.
type ChannelSearchOptions struct {
	Timeout    time.Duration
	MaxResults int
	UserAgent  string
}

// ChannelSearch queries a storefront's search page for listing thumbnails.
// All callers of one instance share its throttler.
type ChannelSearch struct {
	fetcher   fetch.Fetcher
	engine    *extract.Engine
	throttler *throttle.Throttler
	opts      ChannelSearchOptions
}

// NewChannelSearch returns the channel search strategy. A nil throttler
// enforces DefaultChannelMinInterval.
func NewChannelSearch(fetcher fetch.Fetcher, engine *extract.Engine, throttler *throttle.Throttler, opts ChannelSearchOptions) *ChannelSearch {
	if throttler == nil {
		throttler = throttle.New(DefaultChannelMinInterval)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultChannelSearchTimeout
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.UserAgent == "" {
		opts.UserAgent = fetch.DefaultUserAgent
	}
	return &ChannelSearch{fetcher: fetcher, engine: engine, throttler: throttler, opts: opts}
}

func (c *ChannelSearch) Name() string  { return "channel_search" }
func (c *ChannelSearch) Priority() int { return PriorityChannelSearch }

// CanHandle requires both a channel and a non-blank item name.
func (c *ChannelSearch) CanHandle(req models.FetchRequest) bool {
	return req.HasSalesChannel() && strings.TrimSpace(req.ItemName) != ""
}

// Fetch never returns an error; every failure degrades to no results.
func (c *ChannelSearch) Fetch(ctx context.Context, req models.FetchRequest) ([]models.ImageResult, error) {
	start := time.Now()
	channel := string(req.SalesChannel)

	if err := c.throttler.Throttle(ctx); err != nil {
		slog.Warn("channel search throttle aborted", slog.String("channel", channel), slog.Any("error", err))
		return nil, nil
	}

	query := validator.BuildSearchQuery(req.ItemName, req.OptionName)
	searchURL, err := extract.SearchURL(req.SalesChannel, query)
	if err != nil {
		slog.Warn("channel search url", slog.String("channel", channel), slog.Any("error", err))
		return nil, nil
	}

	resp, err := c.fetcher.Fetch(ctx, fetch.Request{
		URL: searchURL,
		Headers: map[string]string{
			"User-Agent":      c.opts.UserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": searchAcceptLanguage,
		},
		Timeout: c.opts.Timeout,
		Kind:    "search",
	})
	if err != nil {
		slog.Warn("channel search fetch failed",
			slog.String("channel", channel),
			slog.String("url", searchURL),
			slog.String("category", fetch.ErrorTypeLabel(err)),
			slog.Any("error", err),
		)
		return nil, nil
	}

	html := string(resp.Body)
	if strings.TrimSpace(html) == "" {
		slog.Warn("channel search page empty", slog.String("channel", channel))
		return nil, nil
	}

	urls := c.engine.ExtractChannelImages(req.SalesChannel, html)
	if len(urls) > c.opts.MaxResults {
		urls = urls[:c.opts.MaxResults]
	}

	results := make([]models.ImageResult, 0, len(urls))
	for _, u := range urls {
		results = append(results, models.ImageResult{
			URL:           validator.ResolveImageURL(searchURL, u),
			Source:        models.SourceChannelSearch,
			LoadingTimeMs: elapsedMs(start),
			Resolution:    models.UnknownResolution,
		})
	}
	return results, nil
}
