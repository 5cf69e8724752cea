package mautic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"dncproxy/pkg/platform/sentinel"
)

// StatusError is a non-success HTTP status from Mautic.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ConnectionError is a transport failure before any HTTP status arrived.
// It matches sentinel.ErrUnavailable.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if isTimeout(e.Err) {
		return "connection error: timeout"
	}
	return "connection error: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == sentinel.ErrUnavailable
}

// SuppressionError is a DNC add Mautic did not accept: a non-2xx status, or
// a 2xx whose body still carries errors.
type SuppressionError struct {
	StatusCode int
	Errors     string
}

func (e *SuppressionError) Error() string {
	if e.Errors == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Errors)
}

// connectionError strips the request URL from transport errors; search
// URLs carry the email address.
func connectionError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return &ConnectionError{Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
