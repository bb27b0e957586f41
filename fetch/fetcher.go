// Package fetch performs the outbound HTTP GETs issued by the strategies.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-fetch-images/metrics"
)

// DefaultUserAgent mimics a desktop browser; storefront search pages reject bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Request describes one GET.
type Request struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// Kind labels the fetch in metrics, e.g. "image", "page" or "search".
	Kind string
}

// Response carries the body of a successful GET.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Fetcher issues GET requests. Errors are classified as ErrTimeout,
// ErrCanceled, ErrConnection or ErrStatus where possible.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Options configures a CollyFetcher.
type Options struct {
	UserAgent   string
	Transport   http.RoundTripper
	MaxBodySize int
	Metrics     *metrics.Metrics
}

// CollyFetcher runs each request through a fresh colly collector sharing one transport.
type CollyFetcher struct {
	userAgent   string
	transport   http.RoundTripper
	maxBodySize int
	metrics     *metrics.Metrics
}

// NewCollyFetcher builds a fetcher from opts.
func NewCollyFetcher(opts Options) *CollyFetcher {
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	transport := opts.Transport
	if transport == nil {
		transport = newTransport()
	}
	return &CollyFetcher{
		userAgent:   ua,
		transport:   transport,
		maxBodySize: opts.MaxBodySize,
		metrics:     opts.Metrics,
	}
}

// Fetch performs a GET bounded by req.Timeout and ctx.
func (f *CollyFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	collector := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	if f.maxBodySize > 0 {
		collector.MaxBodySize = f.maxBodySize
	}
	collector.WithTransport(&contextTransport{ctx: ctx, base: f.transport})

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range req.Headers {
			r.Headers.Set(key, value)
		}
	})

	var (
		resp       *Response
		statusCode int
	)
	collector.OnResponse(func(r *colly.Response) {
		resp = &Response{
			StatusCode:  r.StatusCode,
			Body:        r.Body,
			ContentType: r.Headers.Get("Content-Type"),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	start := time.Now()
	err := collector.Visit(req.URL)
	elapsed := time.Since(start)
	f.metrics.ObserveFetch(kindLabel(req.Kind), elapsed)

	if err != nil {
		classified := classifyError(err, statusCode)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !IsTimeout(classified) {
			classified = ErrTimeout{Err: err}
		}
		category := ErrorTypeLabel(classified)
		f.metrics.IncFetchError(category)
		slog.Debug("fetch failed",
			slog.String("url", req.URL),
			slog.String("kind", req.Kind),
			slog.String("category", category),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("fetch %s: %w", req.URL, classified)
	}
	if resp == nil {
		return nil, fmt.Errorf("fetch %s: no response received", req.URL)
	}

	return resp, nil
}

func kindLabel(kind string) string {
	if kind == "" {
		return "other"
	}
	return kind
}

// contextTransport binds every round trip to the fetch context so deadlines
// and caller cancellation reach the in-flight request.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
