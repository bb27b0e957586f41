package models

import (
	"errors"
	"fmt"
)

// InvalidURLError reports a malformed or unsupported caller supplied URL.
type InvalidURLError struct {
	URL    string
	Reason string
	Err    error
}

func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid url %q: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a fetch that exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout fetching %q: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NotAccessibleError reports a sales page that answered with a non-client error.
type NotAccessibleError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NotAccessibleError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("not accessible %q (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("not accessible %q: %v", e.URL, e.Err)
}

func (e *NotAccessibleError) Unwrap() error {
	return e.Err
}

// IsInvalidURL reports whether err carries an InvalidURLError.
func IsInvalidURL(err error) bool {
	var target *InvalidURLError
	return errors.As(err, &target)
}

// IsTimeout reports whether err carries a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsNotAccessible reports whether err carries a NotAccessibleError.
func IsNotAccessible(err error) bool {
	var target *NotAccessibleError
	return errors.As(err, &target)
}

// IsPropagated reports whether err must reach the caller instead of being absorbed.
func IsPropagated(err error) bool {
	return IsInvalidURL(err) || IsTimeout(err) || IsNotAccessible(err)
}
