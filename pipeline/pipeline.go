// Package pipeline runs the acquisition strategies for a request and
// assembles the capped, priority-ordered response.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-fetch-images/config"
	"github.com/aluiziolira/go-fetch-images/extract"
	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/metrics"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/strategy"
	"github.com/aluiziolira/go-fetch-images/throttle"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// Options tunes a Pipeline.
type Options struct {
	MaxResults int
	// Deadline bounds a whole FetchImages call; zero disables it.
	Deadline time.Duration
	// Parallel runs applicable strategies concurrently.
	Parallel bool
	Metrics  *metrics.Metrics
}

// Pipeline dispatches a request to its strategies in priority order.
type Pipeline struct {
	strategies []strategy.Strategy
	maxResults int
	deadline   time.Duration
	parallel   bool
	metrics    *metrics.Metrics
	stats      stats
}

// New sorts strategies by priority and returns a pipeline over them.
func New(strategies []strategy.Strategy, opts Options) *Pipeline {
	sorted := make([]strategy.Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = strategy.DefaultMaxResults
	}

	return &Pipeline{
		strategies: sorted,
		maxResults: maxResults,
		deadline:   opts.Deadline,
		parallel:   opts.Parallel,
		metrics:    opts.Metrics,
		stats:      newStats(),
	}
}

// NewFromConfig wires the default strategy set around fetcher.
func NewFromConfig(cfg *config.Config, fetcher fetch.Fetcher, m *metrics.Metrics) *Pipeline {
	throttler := throttle.New(cfg.ChannelMinInterval)
	throttler.OnWait(m.ObserveThrottle)

	strategies := strategy.NewSet(cfg, strategy.Dependencies{
		Fetcher:   fetcher,
		Engine:    extract.NewEngine(0),
		Throttler: throttler,
	})

	return New(strategies, Options{
		MaxResults: cfg.MaxResults,
		Deadline:   cfg.StrategyDeadline(),
		Parallel:   cfg.Parallel,
		Metrics:    m,
	})
}

// FetchImages runs every applicable strategy and returns at most MaxResults
// images ordered by strategy priority, then discovery order.
//
// Invalid URL, direct timeout and inaccessible sales page failures abort the
// call. Any other strategy failure contributes no images. When ctx is done
// or the deadline fires, the images collected so far are returned.
func (p *Pipeline) FetchImages(ctx context.Context, req models.FetchRequest) (models.FetchResponse, error) {
	start := time.Now()
	defer func() { p.metrics.ObservePipeline(time.Since(start)) }()

	if err := req.Validate(); err != nil {
		return models.FetchResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if p.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	applicable := p.applicable(req)
	p.stats.incRequests()

	var (
		contributions [][]models.ImageResult
		err           error
	)
	if p.parallel {
		contributions, err = p.runParallel(ctx, applicable, req)
	} else {
		contributions, err = p.runSequential(ctx, applicable, req)
	}
	if err != nil {
		slog.Error("fetch aborted",
			slog.String("item", req.ItemName),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return models.FetchResponse{}, err
	}

	images := p.truncate(contributions)
	for _, img := range images {
		p.metrics.AddImages(string(img.Source), 1)
	}

	resp := models.FetchResponse{
		TotalLoadingTimeMs: time.Since(start).Milliseconds(),
		Images:             images,
	}
	slog.Info("fetch completed",
		slog.String("item", req.ItemName),
		slog.Int("strategies", len(applicable)),
		slog.Int("images", len(images)),
		slog.Int64("total_ms", resp.TotalLoadingTimeMs),
	)
	return resp, nil
}

func (p *Pipeline) applicable(req models.FetchRequest) []strategy.Strategy {
	var out []strategy.Strategy
	for _, s := range p.strategies {
		if s.CanHandle(req) {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pipeline) runSequential(ctx context.Context, strategies []strategy.Strategy, req models.FetchRequest) ([][]models.ImageResult, error) {
	contributions := make([][]models.ImageResult, len(strategies))
	for i, s := range strategies {
		if ctx.Err() != nil {
			slog.Debug("skipping strategy after cancellation", slog.String("strategy", s.Name()))
			p.metrics.IncStrategyRun(s.Name(), "canceled")
			continue
		}
		images, err := p.run(ctx, s, req)
		if err != nil {
			return nil, err
		}
		contributions[i] = images
	}
	return contributions, nil
}

// runParallel keeps contributions indexed by priority so completion order never leaks.
// An aborting failure cancels only lower-priority siblings, so a higher-priority
// error still in flight wins.
func (p *Pipeline) runParallel(ctx context.Context, strategies []strategy.Strategy, req models.FetchRequest) ([][]models.ImageResult, error) {
	contributions := make([][]models.ImageResult, len(strategies))
	errs := make([]error, len(strategies))

	ctxs := make([]context.Context, len(strategies))
	cancels := make([]context.CancelFunc, len(strategies))
	for i := range strategies {
		ctxs[i], cancels[i] = context.WithCancel(ctx)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	var g errgroup.Group
	for i, s := range strategies {
		g.Go(func() error {
			images, err := p.run(ctxs[i], s, req)
			contributions[i] = images
			errs[i] = err
			if err != nil {
				for _, cancel := range cancels[i+1:] {
					cancel()
				}
			}
			return err
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return contributions, nil
}

// run invokes one strategy and applies the isolation policy. The returned
// error is non-nil only for failures that abort the request.
func (p *Pipeline) run(ctx context.Context, s strategy.Strategy, req models.FetchRequest) ([]models.ImageResult, error) {
	start := time.Now()
	name := s.Name()
	slog.Debug("strategy started", slog.String("strategy", name))

	images, err := invoke(ctx, s, req)
	elapsed := time.Since(start)

	switch {
	case err != nil && ctx.Err() != nil:
		slog.Warn("strategy interrupted",
			slog.String("strategy", name),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		p.metrics.IncStrategyRun(name, "canceled")
		return nil, nil
	case err != nil && models.IsPropagated(err):
		slog.Error("strategy failed",
			slog.String("strategy", name),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		p.metrics.IncStrategyRun(name, "propagated")
		return nil, err
	case err != nil:
		slog.Error("strategy failed, continuing",
			slog.String("strategy", name),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		p.metrics.IncStrategyRun(name, "failed")
		p.stats.addIsolated(name)
		return nil, nil
	case len(images) == 0:
		slog.Debug("strategy returned no images", slog.String("strategy", name), slog.Duration("elapsed", elapsed))
		p.metrics.IncStrategyRun(name, "empty")
		return nil, nil
	default:
		slog.Info("strategy succeeded",
			slog.String("strategy", name),
			slog.Int("images", len(images)),
			slog.Duration("elapsed", elapsed),
		)
		p.metrics.IncStrategyRun(name, "ok")
		return images, nil
	}
}

func invoke(ctx context.Context, s strategy.Strategy, req models.FetchRequest) (images []models.ImageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			images = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Fetch(ctx, req)
}

func (p *Pipeline) truncate(contributions [][]models.ImageResult) []models.ImageResult {
	images := make([]models.ImageResult, 0, p.maxResults)
	for _, batch := range contributions {
		for _, img := range batch {
			if len(images) == p.maxResults {
				return images
			}
			images = append(images, img)
		}
	}
	return images
}

// GetMetrics returns a snapshot of the in-process counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.stats.snapshot()
}

// StartMetricsReporting emits periodic progress logs until ctx is done.
func (p *Pipeline) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.GetMetrics()
				requests := snapshot["requests"].(int64)
				isolated := snapshot["isolated_failures"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("requests", requests),
					slog.Any("isolated_failures", isolated),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

type stats struct {
	mu       *sync.Mutex
	requests int64
	isolated map[string]int
}

func newStats() stats {
	return stats{
		mu:       &sync.Mutex{},
		isolated: make(map[string]int),
	}
}

func (s *stats) incRequests() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

func (s *stats) addIsolated(strategy string) {
	s.mu.Lock()
	s.isolated[strategy]++
	s.mu.Unlock()
}

func (s *stats) snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	copyIsolated := make(map[string]int, len(s.isolated))
	for k, v := range s.isolated {
		copyIsolated[k] = v
	}

	return map[string]interface{}{
		"requests":          s.requests,
		"isolated_failures": copyIsolated,
	}
}
