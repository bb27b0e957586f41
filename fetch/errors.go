package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTimeout indicates the fetch exceeded its deadline.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrCanceled indicates the caller abandoned the fetch.
type ErrCanceled struct {
	Err error
}

func (e ErrCanceled) Error() string {
	return fmt.Errorf("canceled: %w", e.Err).Error()
}

func (e ErrCanceled) Unwrap() error {
	return e.Err
}

// ErrStatus indicates the server answered with a non-success status.
type ErrStatus struct {
	StatusCode int
	Err        error
}

func (e ErrStatus) Error() string {
	return fmt.Errorf("http status %d: %w", e.StatusCode, e.Err).Error()
}

func (e ErrStatus) Unwrap() error {
	return e.Err
}

// ClientError reports whether the status is in the 4xx range.
func (e ErrStatus) ClientError() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	var timeout ErrTimeout
	return errors.As(err, &timeout)
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (ErrStatus, bool) {
	var status ErrStatus
	ok := errors.As(err, &status)
	return status, ok
}

// ErrorTypeLabel maps an error to a metrics label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if IsTimeout(err) {
		return "timeout"
	}
	var canceled ErrCanceled
	if errors.As(err, &canceled) {
		return "canceled"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	if status, ok := StatusOf(err); ok {
		switch {
		case status.StatusCode == http.StatusForbidden:
			return "forbidden"
		case status.StatusCode == http.StatusNotFound:
			return "not_found"
		case status.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case status.ClientError():
			return "client_error"
		default:
			return "server_error"
		}
	}
	return "other"
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return ErrCanceled{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusMultipleChoices || (statusCode != 0 && statusCode < http.StatusOK) {
		wrapped := err
		if wrapped == nil {
			wrapped = errors.New(http.StatusText(statusCode))
		}
		return ErrStatus{StatusCode: statusCode, Err: wrapped}
	}

	return err
}
