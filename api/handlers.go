package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aluiziolira/go-fetch-images/models"
)

// ImageFetcher resolves images for one request.
type ImageFetcher interface {
	FetchImages(ctx context.Context, req models.FetchRequest) (models.FetchResponse, error)
}

// ImageHandler serves the image fetch endpoint.
type ImageHandler struct {
	fetcher ImageFetcher
}

// NewImageHandler creates a new image handler.
func NewImageHandler(fetcher ImageFetcher) *ImageHandler {
	return &ImageHandler{fetcher: fetcher}
}

// Fetch handles POST /api/v1/images/fetch.
func (h *ImageHandler) Fetch(c echo.Context) error {
	requestID := requestIDFrom(c)
	logger := slog.With(slog.String("request_id", requestID))

	var req models.FetchRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn("malformed fetch request", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeInvalidRequest, Message: "malformed request body"})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeInvalidRequest, Message: err.Error()})
	}

	logger.Debug("fetch request",
		slog.String("item", req.ItemName),
		slog.Bool("image_url", req.ImageURL != ""),
		slog.Bool("sales_url", req.SalesURL != ""),
		slog.String("channel", string(req.SalesChannel)),
	)

	resp, err := h.fetcher.FetchImages(c.Request().Context(), req)
	if err != nil {
		status, code := mapError(err)
		logger.Error("fetch request failed", slog.Int("status", status), slog.Any("error", err))
		return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
	}
	if resp.Images == nil {
		resp.Images = []models.ImageResult{}
	}
	return c.JSON(http.StatusOK, resp)
}

// HealthHandler reports liveness plus in-process counters.
type HealthHandler struct {
	stats func() map[string]interface{}
}

// NewHealthHandler creates a new health handler. stats may be nil.
func NewHealthHandler(stats func() map[string]interface{}) *HealthHandler {
	return &HealthHandler{stats: stats}
}

// Handle processes the /healthz endpoint.
func (h *HealthHandler) Handle(c echo.Context) error {
	body := map[string]interface{}{"status": "healthy"}
	if h.stats != nil {
		body["pipeline"] = h.stats()
	}
	return c.JSON(http.StatusOK, body)
}

// requestIDFrom returns the id set by the request id middleware, minting one
// when the handler runs without it.
func requestIDFrom(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Response().Header().Set(echo.HeaderXRequestID, id)
	return id
}
