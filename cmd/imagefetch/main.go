package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-fetch-images/api"
	"github.com/aluiziolira/go-fetch-images/config"
	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/metrics"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/pipeline"
)

func main() {
	defaultCfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	serve := flag.Bool("serve", false, "Run the HTTP API instead of a one-shot fetch")
	itemName := flag.String("item", "", "Item name (required for one-shot mode)")
	optionName := flag.String("option", "", "Item option name")
	imageURL := flag.String("image-url", "", "Direct image URL")
	salesURL := flag.String("sales-url", "", "Sales page URL")
	channel := flag.String("channel", "", "Sales channel to search: NAVER, COUPANG, GMARKET, ELEVENST or AUCTION")

	maxResults := flag.Int("max-results", defaultCfg.MaxResults, "Maximum images returned")
	directTimeout := flag.Duration("direct-timeout", defaultCfg.DirectTimeout, "Direct image download timeout")
	salesTimeout := flag.Duration("sales-timeout", defaultCfg.SalesPageTimeout, "Sales page fetch timeout")
	salesImageTimeout := flag.Duration("sales-image-timeout", defaultCfg.SalesImageTimeout, "Per-image probe timeout on sales pages")
	channelTimeout := flag.Duration("channel-timeout", defaultCfg.ChannelSearchTimeout, "Channel search fetch timeout")
	channelInterval := flag.Duration("channel-interval", defaultCfg.ChannelMinInterval, "Minimum spacing between channel searches")
	deadline := flag.Duration("deadline", defaultCfg.RequestDeadline, "Whole-request deadline (0 derives it from the strategy timeouts)")
	parallel := flag.Bool("parallel", defaultCfg.Parallel, "Run strategies concurrently")
	userAgent := flag.String("user-agent", defaultCfg.UserAgent, "User-Agent sent to storefronts")
	listenAddr := flag.String("addr", defaultCfg.ListenAddr, "API listen address")
	metricsAddr := flag.String("metrics-addr", defaultCfg.MetricsAddr, "Separate Prometheus metrics listen address (empty serves /metrics on the API)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logOut := os.Stderr
	if *serve {
		logOut = os.Stdout
	}
	logger, level := newLogger(*verbose, logOut)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.MaxResults = *maxResults
	cfg.DirectTimeout = *directTimeout
	cfg.SalesPageTimeout = *salesTimeout
	cfg.SalesImageTimeout = *salesImageTimeout
	cfg.ChannelSearchTimeout = *channelTimeout
	cfg.ChannelMinInterval = *channelInterval
	cfg.RequestDeadline = *deadline
	cfg.Parallel = *parallel
	cfg.UserAgent = *userAgent
	cfg.ListenAddr = *listenAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	m := metrics.New()
	fetcher := fetch.NewCollyFetcher(fetch.Options{UserAgent: cfg.UserAgent, Metrics: m})
	p := pipeline.NewFromConfig(cfg, fetcher, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := runServer(ctx, cfg, p, m); err != nil {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	req, err := buildRequest(*itemName, *optionName, *imageURL, *salesURL, *channel)
	if err != nil {
		slog.Error("invalid request", slog.Any("error", err))
		flag.Usage()
		os.Exit(2)
	}
	if err := runOnce(ctx, p, req); err != nil {
		slog.Error("fetch failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildRequest(itemName, optionName, imageURL, salesURL, channel string) (models.FetchRequest, error) {
	var salesChannel models.SalesChannel
	if channel != "" {
		parsed, err := models.ParseSalesChannel(channel)
		if err != nil {
			return models.FetchRequest{}, err
		}
		salesChannel = parsed
	}
	return models.NewFetchRequest(itemName, optionName, imageURL, salesURL, salesChannel)
}

func runOnce(ctx context.Context, p *pipeline.Pipeline, req models.FetchRequest) error {
	resp, err := p.FetchImages(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runServer(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, m *metrics.Metrics) error {
	srv := api.NewServer(api.ServerOptions{
		Addr:         cfg.ListenAddr,
		Fetcher:      p,
		Stats:        p.GetMetrics,
		Metrics:      m,
		ServeMetrics: cfg.MetricsAddr == "",
	})

	if cfg.Verbose {
		p.StartMetricsReporting(ctx, 30*time.Second)
	}

	slog.Info("starting image fetch api",
		slog.String("addr", cfg.ListenAddr),
		slog.Int("max_results", cfg.MaxResults),
		slog.Bool("parallel", cfg.Parallel),
		slog.Duration("deadline", cfg.StrategyDeadline()),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newLogger(verbose bool, out *os.File) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(out) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
