package api

import (
	"errors"
	"net/http"

	"github.com/aluiziolira/go-fetch-images/models"
	"github.com/aluiziolira/go-fetch-images/pipeline"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeTimeout        = "TIMEOUT"
	CodeNotAccessible  = "NOT_ACCESSIBLE"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// mapError converts a pipeline failure into a status code and error code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest), models.IsInvalidURL(err):
		return http.StatusBadRequest, CodeInvalidRequest
	case models.IsTimeout(err):
		return http.StatusGatewayTimeout, CodeTimeout
	case models.IsNotAccessible(err):
		return http.StatusBadGateway, CodeNotAccessible
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
