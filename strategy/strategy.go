// Package strategy implements the image acquisition strategies run by the pipeline.
package strategy

import (
	"context"
	"time"

	"github.com/aluiziolira/go-fetch-images/config"
	"github.com/aluiziolira/go-fetch-images/extract"
	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/throttle"
)

// Fixed priorities; lower runs earlier.
const (
	PriorityDirect        = 1
	PrioritySalesPage     = 2
	PriorityChannelSearch = 3
)

// Strategy acquires images for a request from one kind of source.
//
// Fetch returns an empty slice for recoverable conditions. A non-nil error
// is reserved for failures the caller must see, such as an invalid URL.
type Strategy interface {
	Name() string
	Priority() int
	CanHandle(req models.FetchRequest) bool
	Fetch(ctx context.Context, req models.FetchRequest) ([]models.ImageResult, error)
}

// Dependencies are the collaborators shared by all strategies.
type Dependencies struct {
	Fetcher   fetch.Fetcher
	Engine    *extract.Engine
	Throttler *throttle.Throttler
}

// NewSet builds the three strategies from cfg. A nil Engine or Throttler is
// replaced with a default instance.
func NewSet(cfg *config.Config, deps Dependencies) []Strategy {
	engine := deps.Engine
	if engine == nil {
		engine = extract.NewEngine(0)
	}
	throttler := deps.Throttler
	if throttler == nil {
		throttler = throttle.New(cfg.ChannelMinInterval)
	}

	return []Strategy{
		NewDirect(deps.Fetcher, cfg.DirectTimeout),
		NewSalesPage(deps.Fetcher, engine, SalesPageOptions{
			PageTimeout:  cfg.SalesPageTimeout,
			ImageTimeout: cfg.SalesImageTimeout,
			MaxResults:   cfg.MaxResults,
			UserAgent:    cfg.UserAgent,
		}),
		NewChannelSearch(deps.Fetcher, engine, throttler, ChannelSearchOptions{
			Timeout:    cfg.ChannelSearchTimeout,
			MaxResults: cfg.MaxResults,
			UserAgent:  cfg.UserAgent,
		}),
	}
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
