package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-fetch-images/metrics"
	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/pipeline"
)

type stubFetcher struct {
	resp models.FetchResponse
	err  error
	got  models.FetchRequest
	hits int
}

func (s *stubFetcher) FetchImages(_ context.Context, req models.FetchRequest) (models.FetchResponse, error) {
	s.hits++
	s.got = req
	return s.resp, s.err
}

func newJSONContext(body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, FetchPath, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestImageHandler_Fetch(t *testing.T) {
	t.Run("returns pipeline response", func(t *testing.T) {
		fetcher := &stubFetcher{resp: models.FetchResponse{
			TotalLoadingTimeMs: 42,
			Images: []models.ImageResult{{
				URL:           "https://cdn.example.com/a.jpg",
				Source:        models.SourceDirect,
				LoadingTimeMs: 12,
				Resolution:    "640x480",
				FileSizeBytes: 1024,
			}},
		}}
		c, rec := newJSONContext(`{"itemName":"MacBook Pro","optionName":"16GB","imageUrl":"https://cdn.example.com/a.jpg","salesChannel":"naver"}`)

		err := NewImageHandler(fetcher).Fetch(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "MacBook Pro", fetcher.got.ItemName)
		assert.Equal(t, "16GB", fetcher.got.OptionName)
		assert.Equal(t, models.ChannelNaver, fetcher.got.SalesChannel)

		var body models.FetchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(42), body.TotalLoadingTimeMs)
		require.Len(t, body.Images, 1)
		assert.Equal(t, "640x480", body.Images[0].Resolution)
		assert.Contains(t, rec.Body.String(), `"fileSizeBytes":1024`)
		assert.Contains(t, rec.Body.String(), `"source":"DIRECT"`)
	})

	t.Run("empty result encodes an empty list", func(t *testing.T) {
		fetcher := &stubFetcher{}
		c, rec := newJSONContext(`{"itemName":"MacBook Pro"}`)

		require.NoError(t, NewImageHandler(fetcher).Fetch(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"images":[]`)
	})

	t.Run("rejects missing item name without calling the pipeline", func(t *testing.T) {
		fetcher := &stubFetcher{}
		c, rec := newJSONContext(`{"imageUrl":"https://cdn.example.com/a.jpg"}`)

		require.NoError(t, NewImageHandler(fetcher).Fetch(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), CodeInvalidRequest)
		assert.Zero(t, fetcher.hits)
	})

	t.Run("rejects unknown channel", func(t *testing.T) {
		fetcher := &stubFetcher{}
		c, rec := newJSONContext(`{"itemName":"shoe","salesChannel":"AMAZON"}`)

		require.NoError(t, NewImageHandler(fetcher).Fetch(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, fetcher.hits)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		c, rec := newJSONContext(`{"itemName":`)

		require.NoError(t, NewImageHandler(&stubFetcher{}).Fetch(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sets a request id", func(t *testing.T) {
		c, rec := newJSONContext(`{"itemName":"shoe"}`)

		require.NoError(t, NewImageHandler(&stubFetcher{}).Fetch(c))
		_, err := uuid.Parse(rec.Header().Get(echo.HeaderXRequestID))
		assert.NoError(t, err)
	})
}

func TestImageHandler_FetchErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "invalid url",
			err:    &models.InvalidURLError{URL: "not-a-url", Reason: "url must be absolute"},
			status: http.StatusBadRequest,
			code:   CodeInvalidRequest,
		},
		{
			name:   "invalid request",
			err:    fmt.Errorf("%w: itemName is required", pipeline.ErrInvalidRequest),
			status: http.StatusBadRequest,
			code:   CodeInvalidRequest,
		},
		{
			name:   "timeout",
			err:    &models.TimeoutError{URL: "https://cdn.example.com/a.jpg", Err: context.DeadlineExceeded},
			status: http.StatusGatewayTimeout,
			code:   CodeTimeout,
		},
		{
			name:   "not accessible",
			err:    &models.NotAccessibleError{URL: "https://shop.example.com", StatusCode: 503, Err: errors.New("unavailable")},
			status: http.StatusBadGateway,
			code:   CodeNotAccessible,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newJSONContext(`{"itemName":"shoe","imageUrl":"https://cdn.example.com/a.jpg"}`)

			require.NoError(t, NewImageHandler(&stubFetcher{err: tt.err}).Fetch(c))
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHealthHandler_Handle(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(func() map[string]interface{} {
		return map[string]interface{}{"requests": int64(3)}
	})

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"requests":3`)
}

func TestServerRoutes(t *testing.T) {
	m := metrics.New()
	m.IncStrategyRun("direct", "ok")
	srv := NewServer(ServerOptions{
		Addr:         ":0",
		Fetcher:      &stubFetcher{},
		Metrics:      m,
		ServeMetrics: true,
	})

	t.Run("fetch carries middleware request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, FetchPath, strings.NewReader(`{"itemName":"shoe"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		_, err := uuid.Parse(rec.Header().Get(echo.HeaderXRequestID))
		assert.NoError(t, err)
	})

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "imagefetch_strategy_runs_total")
	})

	t.Run("metrics disabled", func(t *testing.T) {
		plain := NewServer(ServerOptions{Addr: ":0", Fetcher: &stubFetcher{}, Metrics: m})
		rec := httptest.NewRecorder()
		plain.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, FetchPath, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
