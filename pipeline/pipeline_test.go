package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-fetch-images/config"
	"github.com/aluiziolira/go-fetch-images/fetch"
	"github.com/aluiziolira/go-fetch-images/metrics"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/strategy"
)

type fakeStrategy struct {
	name     string
	priority int
	handles  bool
	delay    time.Duration
	fn       func(ctx context.Context) ([]models.ImageResult, error)
	calls    atomic.Int32
}

func (f *fakeStrategy) Name() string                       { return f.name }
func (f *fakeStrategy) Priority() int                      { return f.priority }
func (f *fakeStrategy) CanHandle(models.FetchRequest) bool { return f.handles }

func (f *fakeStrategy) Fetch(ctx context.Context, _ models.FetchRequest) ([]models.ImageResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.fn(ctx)
}

func returning(source models.ImageSource, urls ...string) func(context.Context) ([]models.ImageResult, error) {
	return func(context.Context) ([]models.ImageResult, error) {
		out := make([]models.ImageResult, 0, len(urls))
		for _, u := range urls {
			out = append(out, models.ImageResult{URL: u, Source: source, Resolution: models.UnknownResolution})
		}
		return out, nil
	}
}

func failing(err error) func(context.Context) ([]models.ImageResult, error) {
	return func(context.Context) ([]models.ImageResult, error) {
		return nil, err
	}
}

func blocking(ctx context.Context) ([]models.ImageResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func urls(images []models.ImageResult) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.URL
	}
	return out
}

var item = models.FetchRequest{ItemName: "MacBook Pro"}

func TestFetchImagesNoApplicableStrategies(t *testing.T) {
	s := &fakeStrategy{name: "direct", priority: 1, handles: false, fn: returning(models.SourceDirect, "a")}
	p := New([]strategy.Strategy{s}, Options{})

	resp, err := p.FetchImages(context.Background(), item)
	if err != nil {
		t.Fatalf("FetchImages() error = %v", err)
	}
	if resp.Images == nil || len(resp.Images) != 0 {
		t.Fatalf("Images = %#v, want empty non-nil slice", resp.Images)
	}
	if resp.TotalLoadingTimeMs < 0 {
		t.Fatalf("TotalLoadingTimeMs = %d", resp.TotalLoadingTimeMs)
	}
	if s.calls.Load() != 0 {
		t.Fatalf("inapplicable strategy was invoked")
	}
}

func TestFetchImagesRejectsInvalidRequest(t *testing.T) {
	p := New(nil, Options{})
	_, err := p.FetchImages(context.Background(), models.FetchRequest{ItemName: "  "})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("FetchImages() error = %v, want ErrInvalidRequest", err)
	}
}

func TestFetchImagesOrderingAndCap(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			// Higher priorities finish first so completion order differs from priority order.
			channel := &fakeStrategy{name: "channel", priority: 3, handles: true, fn: returning(models.SourceChannelSearch, "c1", "c2")}
			sales := &fakeStrategy{name: "sales", priority: 2, handles: true, delay: 20 * time.Millisecond, fn: returning(models.SourceSalesURL, "s1", "s2")}
			direct := &fakeStrategy{name: "direct", priority: 1, handles: true, delay: 40 * time.Millisecond, fn: returning(models.SourceDirect, "d1")}

			p := New([]strategy.Strategy{channel, sales, direct}, Options{MaxResults: 3, Parallel: parallel})
			resp, err := p.FetchImages(context.Background(), item)
			if err != nil {
				t.Fatalf("FetchImages() error = %v", err)
			}

			want := []string{"d1", "s1", "s2"}
			if got := urls(resp.Images); !slices.Equal(got, want) {
				t.Fatalf("images = %v, want %v", got, want)
			}
			if channel.calls.Load() != 1 {
				t.Fatalf("channel strategy calls = %d, want 1", channel.calls.Load())
			}
		})
	}
}

func TestFetchImagesCapsSingleStrategy(t *testing.T) {
	s := &fakeStrategy{name: "sales", priority: 2, handles: true, fn: returning(models.SourceSalesURL, "1", "2", "3", "4", "5")}
	p := New([]strategy.Strategy{s}, Options{})

	resp, err := p.FetchImages(context.Background(), item)
	if err != nil {
		t.Fatalf("FetchImages() error = %v", err)
	}
	if len(resp.Images) != 3 {
		t.Fatalf("got %d images, want default cap 3", len(resp.Images))
	}
}

func TestFetchImagesIsolatesFailures(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			broken := &fakeStrategy{name: "broken", priority: 1, handles: true, fn: failing(errors.New("parse exploded"))}
			panicky := &fakeStrategy{name: "panicky", priority: 2, handles: true, fn: func(context.Context) ([]models.ImageResult, error) {
				panic("nil map")
			}}
			healthy := &fakeStrategy{name: "healthy", priority: 3, handles: true, fn: returning(models.SourceChannelSearch, "ok")}

			m := metrics.New()
			p := New([]strategy.Strategy{broken, panicky, healthy}, Options{Parallel: parallel, Metrics: m})
			resp, err := p.FetchImages(context.Background(), item)
			if err != nil {
				t.Fatalf("FetchImages() error = %v", err)
			}
			if got := urls(resp.Images); !slices.Equal(got, []string{"ok"}) {
				t.Fatalf("images = %v, want [ok]", got)
			}

			isolated := p.GetMetrics()["isolated_failures"].(map[string]int)
			if isolated["broken"] != 1 || isolated["panicky"] != 1 {
				t.Fatalf("isolated failures = %v", isolated)
			}
			if got := testutil.ToFloat64(m.StrategyRuns.WithLabelValues("healthy", "ok")); got != 1 {
				t.Fatalf("healthy ok runs = %v, want 1", got)
			}
			if got := testutil.ToFloat64(m.StrategyRuns.WithLabelValues("broken", "failed")); got != 1 {
				t.Fatalf("broken failed runs = %v, want 1", got)
			}
		})
	}
}

func TestFetchImagesPropagatesCallerErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "invalid url", err: &models.InvalidURLError{URL: "not-a-url", Reason: "url must be absolute"}, check: models.IsInvalidURL},
		{name: "timeout", err: &models.TimeoutError{URL: "https://cdn.example.com/a.jpg", Err: context.DeadlineExceeded}, check: models.IsTimeout},
		{name: "not accessible", err: &models.NotAccessibleError{URL: "https://shop.example.com", StatusCode: 503}, check: models.IsNotAccessible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := &fakeStrategy{name: "first", priority: 1, handles: true, fn: failing(tt.err)}
			second := &fakeStrategy{name: "second", priority: 2, handles: true, fn: returning(models.SourceSalesURL, "s1")}

			p := New([]strategy.Strategy{first, second}, Options{})
			resp, err := p.FetchImages(context.Background(), item)
			if !tt.check(err) {
				t.Fatalf("FetchImages() error = %v", err)
			}
			if len(resp.Images) != 0 {
				t.Fatalf("partial response returned: %v", urls(resp.Images))
			}
			if second.calls.Load() != 0 {
				t.Fatalf("strategy after a propagated failure was invoked")
			}
		})
	}
}

func TestFetchImagesParallelPropagatesHighestPriorityError(t *testing.T) {
	direct := &fakeStrategy{name: "direct", priority: 1, handles: true, delay: 10 * time.Millisecond,
		fn: failing(&models.InvalidURLError{URL: "x", Reason: "bad"})}
	sales := &fakeStrategy{name: "sales", priority: 2, handles: true, fn: returning(models.SourceSalesURL, "s1")}

	p := New([]strategy.Strategy{direct, sales}, Options{Parallel: true})
	_, err := p.FetchImages(context.Background(), item)
	if !models.IsInvalidURL(err) {
		t.Fatalf("FetchImages() error = %v, want InvalidURLError", err)
	}
}

func TestFetchImagesParallelHigherPriorityErrorBeatsEarlierFailure(t *testing.T) {
	// direct ignores ctx and fails after sales has already aborted.
	direct := &fakeStrategy{name: "direct", priority: 1, handles: true,
		fn: func(context.Context) ([]models.ImageResult, error) {
			time.Sleep(20 * time.Millisecond)
			return nil, &models.InvalidURLError{URL: "x", Reason: "bad"}
		}}
	sales := &fakeStrategy{name: "sales", priority: 2, handles: true,
		fn: failing(&models.NotAccessibleError{URL: "s", StatusCode: http.StatusServiceUnavailable})}
	channel := &fakeStrategy{name: "channel", priority: 3, handles: true, fn: blocking}

	p := New([]strategy.Strategy{channel, sales, direct}, Options{Parallel: true})
	_, err := p.FetchImages(context.Background(), item)
	if !models.IsInvalidURL(err) {
		t.Fatalf("FetchImages() error = %v, want InvalidURLError", err)
	}
	if channel.calls.Load() != 1 {
		t.Fatalf("channel calls = %d, want 1", channel.calls.Load())
	}
}

func TestFetchImagesCancellationReturnsCollected(t *testing.T) {
	first := &fakeStrategy{name: "first", priority: 1, handles: true, fn: returning(models.SourceDirect, "d1")}
	stuck := &fakeStrategy{name: "stuck", priority: 2, handles: true, fn: blocking}
	last := &fakeStrategy{name: "last", priority: 3, handles: true, fn: returning(models.SourceChannelSearch, "c1")}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	p := New([]strategy.Strategy{first, stuck, last}, Options{})
	start := time.Now()
	resp, err := p.FetchImages(ctx, item)
	if err != nil {
		t.Fatalf("FetchImages() error = %v, want nil on cancellation", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancellation did not interrupt the pipeline")
	}
	if got := urls(resp.Images); !slices.Equal(got, []string{"d1"}) {
		t.Fatalf("images = %v, want [d1]", got)
	}
	if last.calls.Load() != 0 {
		t.Fatalf("strategy after cancellation was invoked")
	}
}

func TestFetchImagesDeadline(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			stuck := &fakeStrategy{name: "stuck", priority: 1, handles: true, fn: blocking}
			fast := &fakeStrategy{name: "fast", priority: 2, handles: true, fn: returning(models.SourceSalesURL, "s1")}

			p := New([]strategy.Strategy{stuck, fast}, Options{Deadline: 50 * time.Millisecond, Parallel: parallel})
			start := time.Now()
			resp, err := p.FetchImages(context.Background(), item)
			if err != nil {
				t.Fatalf("FetchImages() error = %v", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Fatalf("deadline not enforced, took %v", elapsed)
			}

			// Only the concurrent run lets the fast strategy finish before the deadline.
			want := 0
			if parallel {
				want = 1
			}
			if len(resp.Images) != want {
				t.Fatalf("got %d images, want %d", len(resp.Images), want)
			}
		})
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newWiredPipeline(t *testing.T) (*Pipeline, *httpmock.MockTransport, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DirectTimeout = time.Second
	cfg.SalesPageTimeout = time.Second
	cfg.SalesImageTimeout = time.Second
	cfg.ChannelSearchTimeout = time.Second
	cfg.ChannelMinInterval = 0

	transport := httpmock.NewMockTransport()
	m := metrics.New()
	f := fetch.NewCollyFetcher(fetch.Options{Transport: transport, Metrics: m})
	return NewFromConfig(cfg, f, m), transport, m
}

func TestPipelineEndToEnd(t *testing.T) {
	p, transport, m := newWiredPipeline(t)
	direct := pngBytes(t, 8, 8)
	transport.RegisterResponder(http.MethodGet, "https://cdn.example.com/direct.png", httpmock.NewBytesResponder(http.StatusOK, direct))
	transport.RegisterResponder(http.MethodGet, "https://shop.example.com/p/1", httpmock.NewStringResponder(http.StatusOK,
		`<html><head><meta property="og:image" content="//cdn.example.com/og.jpg"></head>
		<body><img src="https://cdn.example.com/gallery.jpg"><img src="https://cdn.example.com/extra.jpg"></body></html>`))
	transport.RegisterResponder(http.MethodGet, `=~^https://search\.shopping\.naver\.com/`, httpmock.NewStringResponder(http.StatusOK,
		`<div class="product_list_item"><img class="thumbnail" src="https://cdn.example.com/thumb.jpg"></div>`))
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))

	resp, err := p.FetchImages(context.Background(), models.FetchRequest{
		ItemName:     "MacBook Pro",
		ImageURL:     "https://cdn.example.com/direct.png",
		SalesURL:     "https://shop.example.com/p/1",
		SalesChannel: models.ChannelNaver,
	})
	if err != nil {
		t.Fatalf("FetchImages() error = %v", err)
	}

	want := []struct {
		url    string
		source models.ImageSource
	}{
		{url: "https://cdn.example.com/direct.png", source: models.SourceDirect},
		{url: "https://cdn.example.com/og.jpg", source: models.SourceSalesURL},
		{url: "https://cdn.example.com/gallery.jpg", source: models.SourceSalesURL},
	}
	if len(resp.Images) != len(want) {
		t.Fatalf("got %d images, want %d: %+v", len(resp.Images), len(want), resp.Images)
	}
	for i, w := range want {
		if resp.Images[i].URL != w.url || resp.Images[i].Source != w.source {
			t.Fatalf("image[%d] = %+v, want %s from %s", i, resp.Images[i], w.url, w.source)
		}
	}
	if resp.Images[0].Resolution != "8x8" {
		t.Fatalf("direct resolution = %q, want 8x8", resp.Images[0].Resolution)
	}
	if got := testutil.ToFloat64(m.ImagesReturned.WithLabelValues(string(models.SourceSalesURL))); got != 2 {
		t.Fatalf("sales images counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StrategyRuns.WithLabelValues("channel_search", "ok")); got != 1 {
		t.Fatalf("channel search ran %v times, want 1", got)
	}
}

func TestPipelineInvalidDirectURL(t *testing.T) {
	p, transport, _ := newWiredPipeline(t)
	transport.RegisterResponder(http.MethodGet, "https://shop.example.com/p/1", httpmock.NewStringResponder(http.StatusOK,
		`<meta property="og:image" content="https://cdn.example.com/og.jpg">`))

	resp, err := p.FetchImages(context.Background(), models.FetchRequest{
		ItemName: "MacBook Pro",
		ImageURL: "not-a-url",
		SalesURL: "https://shop.example.com/p/1",
	})
	if !models.IsInvalidURL(err) {
		t.Fatalf("FetchImages() error = %v, want InvalidURLError", err)
	}
	if len(resp.Images) != 0 {
		t.Fatalf("partial response returned")
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("%d requests issued after an invalid direct URL", n)
	}
}

func TestPipelineProtocolRelativeRewritten(t *testing.T) {
	p, transport, _ := newWiredPipeline(t)
	transport.RegisterResponder(http.MethodGet, `=~^https://www\.coupang\.com/np/search`, httpmock.NewStringResponder(http.StatusOK,
		`<ul><li class="search-product"><img class="search-product-wrap-img" src="//cdn.example.com/x.jpg"></li></ul>`))

	resp, err := p.FetchImages(context.Background(), models.FetchRequest{ItemName: "shoe", SalesChannel: models.ChannelCoupang})
	if err != nil {
		t.Fatalf("FetchImages() error = %v", err)
	}
	if len(resp.Images) != 1 || resp.Images[0].URL != "https://cdn.example.com/x.jpg" {
		t.Fatalf("images = %+v, want rewritten https URL", resp.Images)
	}
}
